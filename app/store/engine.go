package store

import (
	"context"
	"errors"
)

// Engine errors
var (
	ErrNotFound     = errors.New("pasta not found")
	ErrSaveRejected = errors.New("can't save pasta")
)

// Engine defines the persistence contract implemented by the json snapshot
// and sqlite backends. ReadAll returns pastas ascending by created time.
// Implementations are picked once at startup and never mixed.
type Engine interface {
	ReadAll(ctx context.Context) ([]*Pasta, error)
	Insert(ctx context.Context, p *Pasta) error
	Update(ctx context.Context, p *Pasta) error
	UpdateAll(ctx context.Context, pastas []*Pasta) error
	DeleteByID(ctx context.Context, id uint64) error
	Close() error
}
