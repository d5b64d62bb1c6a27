package main

import (
	"context"
	"log"
	"os"

	"github.com/dmitrijs2005/chunkvault/internal/cli"
	"github.com/dmitrijs2005/chunkvault/internal/logging"
	"github.com/dmitrijs2005/chunkvault/internal/server"
	"github.com/dmitrijs2005/chunkvault/internal/server/config"
)

func main() {

	ctx := context.Background()
	cfg, err := config.LoadConfig(os.Args[1:])
	if err != nil {
		log.Fatalf("%v", err)
	}

	logger, err := logging.New(os.Stderr, "text", cfg.LogLevel)
	if err != nil {
		log.Fatalf("%v", err)
	}

	stack, err := server.NewStack(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("%v", err)
	}
	defer stack.Close()

	app := cli.NewApp(stack.Files, stack.Broker, stack.Repos.Users(stack.DB), cfg.StagingTTL)
	app.Run(ctx)

}
