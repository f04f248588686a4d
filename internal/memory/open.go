package memory

import (
	"context"
	"fmt"
	"strings"

	logx "seatwatch/pkg/logx"
)

// Open initializes the configured store.
func Open(ctx context.Context, cfg Config, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	switch driver {
	case "", "file", "json":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(ctx, cfg, log)
	case "s3":
		return openS3(ctx, cfg, log)
	default:
		return nil, fmt.Errorf("unknown memory driver: %s", driver)
	}
}
