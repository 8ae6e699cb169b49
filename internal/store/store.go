// Package store persists edited source bundles as drafts. A draft belongs to
// one client's editor of one effect; Key builds its store key.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/conneroisu/fxlab/internal/config"
	fxerrors "github.com/conneroisu/fxlab/internal/errors"
	"github.com/conneroisu/fxlab/internal/renderer"
)

// Draft is the last saved state of an effect's editor.
type Draft struct {
	ID        string          `json:"id"`
	Bundle    renderer.Bundle `json:"bundle"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Drafts stores at most one draft per key.
type Drafts interface {
	Save(ctx context.Context, id string, b renderer.Bundle) error
	Load(ctx context.Context, id string) (Draft, error)
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]Draft, error)
	Close() error
}

// Open returns the draft store named by cfg.
func Open(ctx context.Context, cfg config.StorageConfig) (Drafts, error) {
	switch cfg.Driver {
	case "", "memory":
		return NewMemoryDrafts(), nil
	case "sqlite":
		return OpenSQL(ctx, cfg.DSN)
	default:
		return nil, fxerrors.NewConfigError(fxerrors.ErrCodeConfigInvalid,
			fmt.Sprintf("unknown storage driver %q", cfg.Driver))
	}
}

// Key is the store key of owner's draft of effectID. An empty owner is the
// local single-user key used by the CLI.
func Key(owner, effectID string) string {
	if owner == "" {
		return effectID
	}
	return owner + "/" + effectID
}

func errNotFound(id string) error {
	return fxerrors.NewNotFoundError(fxerrors.ErrCodeDraftNotFound, "no draft for "+id).
		WithContext("id", id)
}

func errStorage(op string, err error) error {
	return fxerrors.NewIOError(fxerrors.ErrCodeStorage, "draft store: "+op+" failed", err).
		WithComponent("store")
}
