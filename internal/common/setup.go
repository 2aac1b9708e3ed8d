package common

import (
	"context"
	"fmt"
	"log"
	"strings"

	"refund-relay-go/internal/chain"
	"refund-relay-go/internal/database"
	"refund-relay-go/internal/models"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

// init loads environment variables from .env file if it exists
func init() {
	// Environment variables can also be set via shell export, docker, etc.
	if err := godotenv.Load(); err != nil {
		log.Printf("Note: No .env file found or unable to load it: %v\n", err)
		log.Println("Make sure to set environment variables via export or other means")
	} else {
		log.Println("✓ Loaded environment variables from .env file")
	}
}

type Services struct {
	Chain   *chain.Service
	Network *NetworkConfig
	// Journal is nil when DATABASE_PATH is unset
	Journal *database.Service
}

func InitializeLogger() (*zap.Logger, func()) {
	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}

	zap.ReplaceGlobals(logger)

	cleanup := func() {
		if err := logger.Sync(); err != nil {
			if !isIgnorableSyncError(err) {
				log.Printf("Failed to sync logger: %v\n", err)
			}
		}
	}

	return logger, cleanup
}

func InitializeServices(ctx context.Context, cfg *models.Config) (*Services, error) {
	zap.L().Info("Loading network configuration", zap.String("file", cfg.Chain.NetworkFile))
	network, err := LoadNetworkConfig(cfg.Chain.NetworkFile)
	if err != nil {
		return nil, err
	}

	chainService, err := chain.NewService(ctx, cfg.Chain)
	if err != nil {
		return nil, err
	}

	if network.ChainId != 0 && chainService.ChainId().Uint64() != network.ChainId {
		chainService.Close()
		return nil, fmt.Errorf("rpc reports chain id %s, network file expects %d",
			chainService.ChainId(), network.ChainId)
	}

	services := &Services{
		Chain:   chainService,
		Network: network,
	}

	if cfg.Database.Path == "" {
		zap.L().Warn("DATABASE_PATH not set, refund journal disabled")
		return services, nil
	}

	journal, err := database.NewService(ctx, cfg.Database)
	if err != nil {
		chainService.Close()
		return nil, err
	}
	services.Journal = journal

	return services, nil
}

// InitializeDatabaseOnly opens just the refund journal, for read-only tools
func InitializeDatabaseOnly(ctx context.Context, cfg *models.Config) (*database.Service, error) {
	if cfg.Database.Path == "" {
		return nil, fmt.Errorf("DATABASE_PATH must be set")
	}
	return database.NewService(ctx, cfg.Database)
}

func (cs *Services) Close() {
	if cs.Journal != nil {
		cs.Journal.Close()
	}
	if cs.Chain != nil {
		cs.Chain.Close()
	}
}

func isIgnorableSyncError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "sync /dev/stderr: inappropriate ioctl for device") ||
		strings.Contains(msg, "sync /dev/stdout: inappropriate ioctl for device")
}
