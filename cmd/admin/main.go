package main

import (
	"context"
	"log"
	"os"

	"github.com/dmitrijs2005/mailvault/internal/admin"
	"github.com/dmitrijs2005/mailvault/internal/flagx"
	"github.com/dmitrijs2005/mailvault/internal/logging"
	"github.com/dmitrijs2005/mailvault/internal/server"
	"github.com/dmitrijs2005/mailvault/internal/server/config"
	"github.com/dmitrijs2005/mailvault/internal/server/credential"
	"github.com/dmitrijs2005/mailvault/internal/server/queue"
	"github.com/dmitrijs2005/mailvault/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/mailvault/internal/server/services"
)

func main() {

	ctx := context.Background()
	args := flagx.Positional(os.Args[1:])

	if len(args) > 0 && args[0] == "secret" {
		if err := admin.Run(ctx, admin.NewService(nil, nil, nil, nil, nil, nil), args, os.Stdout); err != nil {
			log.Fatalf("%v", err)
		}
		return
	}

	cfg := config.LoadConfig()
	if err := credential.Apply(cfg); err != nil {
		log.Fatalf("secrets: %v", err)
	}

	db, err := server.OpenDB(ctx, cfg.DatabaseDSN)
	if err != nil {
		log.Fatalf("%v", err)
	}
	defer db.Close()

	logger, err := logging.New(cfg.LogBackend, cfg.LogLevel, os.Stderr)
	if err != nil {
		log.Fatalf("%v", err)
	}

	rm := repomanager.NewPostgresRepositoryManager()
	q := queue.New(db, rm, queue.Config{
		MaxAttempts: cfg.QueueMaxAttempts,
		BaseDelay:   cfg.QueueBaseDelay,
		StaleAfter:  cfg.QueueStaleAfter,
	}, logger)

	var credits *services.CreditService
	if cfg.MultiWallet {
		sealer, err := server.NewSealer(cfg)
		if err != nil {
			log.Fatalf("master key: %v", err)
		}
		gateway, err := server.NewGateway(ctx, cfg)
		if err != nil {
			log.Fatalf("%v", err)
		}
		credits = server.NewCredits(db, rm, gateway, sealer, cfg, logger)
	}

	svc := admin.NewService(db, rm, q, services.NewSenderService(db, rm, cfg), services.NewUsageService(db, rm, cfg), credits)

	if err := admin.Run(ctx, svc, args, os.Stdout); err != nil {
		db.Close()
		log.Fatalf("%v", err)
	}
}
