// Package state holds the durable key/value contract and its in-memory
// implementations.
package state

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Get and Delete when a key does not exist.
var ErrNotFound = errors.New("not found")

// Record is one stored value.
type Record struct {
	Key       string    `yaml:"key" json:"key"`
	Value     string    `yaml:"value" json:"value"`
	Category  string    `yaml:"category,omitempty" json:"category,omitempty"`
	CreatedAt time.Time `yaml:"created_at" json:"created_at"`
	UpdatedAt time.Time `yaml:"updated_at" json:"updated_at"`
}

// Store is the durable key/value store. Put is atomic per key and
// overwrites any existing value.
type Store interface {
	Put(ctx context.Context, key, value, category string) error
	Get(ctx context.Context, key string) (string, error)
}

// KnowledgeStore extends Store with the browsing operations used by the
// memory provider.
type KnowledgeStore interface {
	Store
	Record(ctx context.Context, key string) (*Record, error)
	Delete(ctx context.Context, key string) error
	// List returns records, newest update first, optionally by category.
	List(ctx context.Context, category string) ([]Record, error)
	// Search matches term case-insensitively against key and value.
	Search(ctx context.Context, term string) ([]Record, error)
	Categories(ctx context.Context) ([]string, error)
}
