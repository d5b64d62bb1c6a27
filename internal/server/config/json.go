package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/dmitrijs2005/chunkvault/internal/flagx"
	"github.com/dmitrijs2005/chunkvault/internal/timex"
)

// JsonConfig is the on-disk shape of the configuration file. Durations use
// timex.Duration, so both "15m" and integer nanoseconds are accepted.
// Absent fields keep their current value.
type JsonConfig struct {
	DatabaseDSN     string `json:"database_dsn"`
	AppSecret       string `json:"app_secret"`
	StoragePath     string `json:"storage_path"`
	StagingPath     string `json:"staging_path"`
	ChunkSize       int    `json:"chunk_size"`
	CipherAlgorithm string `json:"cipher_algorithm"`
	MetricsAddr     string `json:"metrics_addr"`

	StagingTTL     timex.Duration `json:"staging_ttl"`
	SweepInterval  timex.Duration `json:"sweep_interval"`
	RetryAttempts  *uint64        `json:"retry_attempts"`
	RetryBaseDelay timex.Duration `json:"retry_base_delay"`
	TokenSkew      timex.Duration `json:"token_skew"`

	S3AccessKey    string `json:"s3_access_key"`
	S3SecretKey    string `json:"s3_secret_key"`
	S3Bucket       string `json:"s3_bucket"`
	S3Region       string `json:"s3_region"`
	S3BaseEndpoint string `json:"s3_base_endpoint"`
	S3Prefix       string `json:"s3_prefix"`

	GoogleClientID        string `json:"google_client_id"`
	GoogleClientSecret    string `json:"google_client_secret"`
	GoogleDriveFolderID   string `json:"google_drive_folder_id"`
	MicrosoftClientID     string `json:"microsoft_client_id"`
	MicrosoftClientSecret string `json:"microsoft_client_secret"`
	MicrosoftTenant       string `json:"microsoft_tenant"`

	LogLevel  string `json:"log_level"`
	LogFormat string `json:"log_format"`
}

// parseJson overlays the JSON file named by -c / -config in args onto
// config. Nothing happens when neither flag is present.
func parseJson(config *Config, args []string) error {
	path := flagx.ConfigFilePath(args)
	if path == "" {
		return nil
	}

	file, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}

	c := &JsonConfig{}
	if err := json.Unmarshal(file, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}

	setString(&config.DatabaseDSN, c.DatabaseDSN)
	setString(&config.AppSecret, c.AppSecret)
	setString(&config.StoragePath, c.StoragePath)
	setString(&config.StagingPath, c.StagingPath)
	if c.ChunkSize > 0 {
		config.ChunkSize = c.ChunkSize
	}
	setString(&config.CipherAlgorithm, c.CipherAlgorithm)
	setString(&config.MetricsAddr, c.MetricsAddr)

	setDuration(&config.StagingTTL, c.StagingTTL)
	setDuration(&config.SweepInterval, c.SweepInterval)
	if c.RetryAttempts != nil {
		config.RetryAttempts = *c.RetryAttempts
	}
	setDuration(&config.RetryBaseDelay, c.RetryBaseDelay)
	setDuration(&config.TokenSkew, c.TokenSkew)

	setString(&config.S3AccessKey, c.S3AccessKey)
	setString(&config.S3SecretKey, c.S3SecretKey)
	setString(&config.S3Bucket, c.S3Bucket)
	setString(&config.S3Region, c.S3Region)
	setString(&config.S3BaseEndpoint, c.S3BaseEndpoint)
	setString(&config.S3Prefix, c.S3Prefix)

	setString(&config.GoogleClientID, c.GoogleClientID)
	setString(&config.GoogleClientSecret, c.GoogleClientSecret)
	setString(&config.GoogleDriveFolderID, c.GoogleDriveFolderID)
	setString(&config.MicrosoftClientID, c.MicrosoftClientID)
	setString(&config.MicrosoftClientSecret, c.MicrosoftClientSecret)
	setString(&config.MicrosoftTenant, c.MicrosoftTenant)

	setString(&config.LogLevel, c.LogLevel)
	setString(&config.LogFormat, c.LogFormat)
	return nil
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setDuration(dst *time.Duration, v timex.Duration) {
	if v.Duration > 0 {
		*dst = v.Duration
	}
}
