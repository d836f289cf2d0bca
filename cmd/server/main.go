package main

import (
	"context"
	"log"

	"github.com/dmitrijs2005/mailvault/internal/server"
	"github.com/dmitrijs2005/mailvault/internal/server/config"
	"github.com/dmitrijs2005/mailvault/internal/server/credential"
)

func main() {

	ctx := context.Background()
	cfg := config.LoadConfig()

	if err := credential.Apply(cfg); err != nil {
		log.Fatalf("secrets: %v", err)
	}

	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	app, err := server.NewApp(ctx, cfg)
	if err != nil {
		log.Fatalf("%v", err)
	}

	if err := app.Run(ctx); err != nil {
		log.Fatalf("%v", err)
	}
}
