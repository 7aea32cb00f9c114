// Package store persists incident records.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/miradorstack/mirador-aiops/internal/config"
	"github.com/miradorstack/mirador-aiops/internal/models"
)

// ErrDuplicateID is returned when a record with the same id already exists.
var ErrDuplicateID = errors.New("incident id already exists")

// Store is the durable incident store. Put is a single insert and never overwrites.
type Store interface {
	Put(ctx context.Context, rec models.IncidentRecord) error
	Scan(ctx context.Context) ([]models.IncidentRecord, error)
	Close() error
}

// Open builds the store selected by cfg.Driver.
func Open(ctx context.Context, cfg config.StoreConfig, logger *slog.Logger) (Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	switch cfg.Driver {
	case "", "memory":
		logger.Warn("using in-memory incident store; records are lost on restart")
		return NewMemoryStore(), nil
	case "postgres", "sqlite":
		return OpenSQL(ctx, cfg.Driver, cfg.DSN, cfg.Migrate, logger)
	case "firestore":
		return OpenFirestore(ctx, cfg.Firestore.ProjectID, cfg.Firestore.Collection)
	default:
		return nil, fmt.Errorf("unsupported store driver %q", cfg.Driver)
	}
}
