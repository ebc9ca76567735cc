package docstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"reel-go/internal/config"
	"reel-go/internal/reel"
)

// NewMetadataStoreFromConfig creates a MetadataStore based on the metadata config type.
func NewMetadataStoreFromConfig(ctx context.Context, cfg config.MetadataConfig, clock reel.Clock, idgen reel.IDGenerator) (reel.MetadataStore, error) {
	switch cfg.Type {
	case "sqlite":
		if cfg.DataDir == "" {
			return nil, fmt.Errorf("data_dir required for sqlite metadata store")
		}
		if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		return NewSQLiteStore(filepath.Join(cfg.DataDir, "reel.db"), clock, idgen)
	case "memory":
		return NewSQLiteStore(":memory:", clock, idgen)
	case "postgres":
		if cfg.PostgresDSN == "" {
			return nil, fmt.Errorf("postgres_dsn required for postgres metadata store")
		}
		return NewPostgresStore(cfg.PostgresDSN, clock, idgen)
	case "dynamodb":
		if cfg.DynamoTable == "" {
			return nil, fmt.Errorf("dynamo_table required for dynamodb metadata store")
		}
		return NewDynamoStore(ctx, cfg.DynamoTable, cfg.DynamoRegion, cfg.DynamoEndpoint, clock, idgen)
	default:
		return nil, fmt.Errorf("unknown metadata store type: %s", cfg.Type)
	}
}
