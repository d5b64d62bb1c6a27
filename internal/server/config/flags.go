package config

import (
	"flag"
	"fmt"
	"io"
	"time"

	"github.com/dmitrijs2005/chunkvault/internal/flagx"
)

// flagNames are the short flags handled by parseFlags.
var flagNames = []string{"-d", "-s", "-l", "-w", "-k", "-x", "-m", "-t", "-i", "-r", "-u", "-p", "-b", "-g", "-e", "-v"}

// parseFlags populates Config fields from command-line flags.
//
// Supported flags (short forms):
//
//	-d string   PostgreSQL DSN
//	-s string   application secret
//	-l string   local chunk storage root
//	-w string   staging directory
//	-k int      chunk size, bytes
//	-x string   cipher algorithm (AES256-GCM, ChaCha20-Poly1305)
//	-m string   metrics listen address
//	-t int      staging TTL, minutes
//	-i int      sweep interval, minutes
//	-r int      retry attempts for transient store errors
//	-u string   S3 access key
//	-p string   S3 secret key
//	-b string   S3 bucket (empty disables S3)
//	-g string   S3 region
//	-e string   S3 base endpoint
//	-v string   log level
//
// args are filtered with flagx.FilterArgs first so subcommand arguments and
// -c / -config do not trip the parser.
func parseFlags(config *Config, args []string) error {
	args = flagx.FilterArgs(args, flagNames)

	fs := flag.NewFlagSet("config", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "database DSN")
	fs.StringVar(&config.AppSecret, "s", config.AppSecret, "application secret")
	fs.StringVar(&config.StoragePath, "l", config.StoragePath, "local chunk storage root")
	fs.StringVar(&config.StagingPath, "w", config.StagingPath, "staging directory")
	fs.IntVar(&config.ChunkSize, "k", config.ChunkSize, "chunk size in bytes")
	fs.StringVar(&config.CipherAlgorithm, "x", config.CipherAlgorithm, "cipher algorithm")
	fs.StringVar(&config.MetricsAddr, "m", config.MetricsAddr, "metrics listen address")

	stagingTTL := fs.Int("t", int(config.StagingTTL.Minutes()), "staging ttl (in minutes)")
	sweepInterval := fs.Int("i", int(config.SweepInterval.Minutes()), "sweep interval (in minutes)")
	fs.Uint64Var(&config.RetryAttempts, "r", config.RetryAttempts, "retry attempts")

	fs.StringVar(&config.S3AccessKey, "u", config.S3AccessKey, "S3 access key")
	fs.StringVar(&config.S3SecretKey, "p", config.S3SecretKey, "S3 secret key")
	fs.StringVar(&config.S3Bucket, "b", config.S3Bucket, "S3 bucket")
	fs.StringVar(&config.S3Region, "g", config.S3Region, "S3 region")
	fs.StringVar(&config.S3BaseEndpoint, "e", config.S3BaseEndpoint, "S3 base endpoint")
	fs.StringVar(&config.LogLevel, "v", config.LogLevel, "log level")

	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("parse flags: %w", err)
	}
	if config.ChunkSize <= 0 {
		return fmt.Errorf("chunk size must be positive, got %d", config.ChunkSize)
	}

	config.StagingTTL = time.Duration(*stagingTTL) * time.Minute
	config.SweepInterval = time.Duration(*sweepInterval) * time.Minute
	return nil
}
