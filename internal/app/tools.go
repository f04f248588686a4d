package app

import (
	"context"

	"seatwatch/internal/backup"
	"seatwatch/internal/config"
	"seatwatch/internal/memory"
	"seatwatch/pkg/logx"
)

// LoadConfig parses and validates a config file without building anything.
func LoadConfig(ctx context.Context, path string) (*config.Config, error) {
	return config.NewManager(path, config.WithValidator(validateConfig)).Load(ctx)
}

// OpenMemory opens the configured store; for CLI subcommands that only
// need the record.
func OpenMemory(ctx context.Context, cfg *config.Config, log logx.Logger) (memory.Store, error) {
	mc, err := memoryConfig(cfg)
	if err != nil {
		return nil, err
	}
	return memory.Open(ctx, mc, log)
}

// NewBackup builds the backup service from cfg.
func NewBackup(cfg *config.Config, st memory.Store, log logx.Logger) (*backup.Service, error) {
	loc, err := location(cfg)
	if err != nil {
		return nil, err
	}
	return backup.New(backupConfig(cfg, loc), st, log, nil), nil
}
