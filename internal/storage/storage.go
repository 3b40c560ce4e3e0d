package storage

import (
	"fmt"

	"go.uber.org/zap"

	"learnsync/internal/config"
	"learnsync/pkg/interfaces"
)

// Driver names accepted by New.
const (
	DriverMemory = "memory"
	DriverSQLite = "sqlite"
	DriverRedis  = "redis"
)

// New opens the snapshot backend selected by cfg.Driver.
func New(cfg *config.StorageConfig, logger *zap.Logger) (interfaces.SnapshotBackend, error) {
	switch cfg.Driver {
	case DriverMemory:
		return NewMemoryBackend(), nil
	case DriverSQLite:
		return NewSQLiteBackend(cfg.Path, logger)
	case DriverRedis:
		return NewRedisBackend(cfg, logger)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, cfg.Driver)
	}
}
