// Package store holds the content of rooms: the shared buffer, the chat
// transcript and activity timestamps. Live membership is not stored here;
// it belongs to the registry because it is bound to open connections.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/manpreetbhatti/coderoom/internal/room"
)

// Store is the storage the registry keeps room content in. Implementations
// must return copies from Get, never live references.
type Store interface {
	// Get returns the room or nil, nil when it does not exist.
	Get(ctx context.Context, id string) (*room.Room, error)

	// Create makes an empty room stamped with at. If the room already exists
	// the existing one is returned unchanged.
	Create(ctx context.Context, id string, at time.Time) (*room.Room, error)

	SetBuffer(ctx context.Context, id, buffer string, at time.Time) error
	AppendChat(ctx context.Context, id string, entry room.ChatEntry) error
	Touch(ctx context.Context, id string, at time.Time) error

	// List returns every room with Members left at zero.
	List(ctx context.Context) ([]room.Summary, error)
	Delete(ctx context.Context, id string) error
	Close() error
}

// Driver names accepted by Open
const (
	DriverMemory = "memory"
	DriverSQLite = "sqlite"
	DriverRedis  = "redis"
)

// Options selects and configures a Store implementation
type Options struct {
	Driver      string
	SQLitePath  string
	RedisURL    string
	RedisPrefix string
}

// Open builds the Store named by opts.Driver.
func Open(ctx context.Context, opts Options) (Store, error) {
	switch opts.Driver {
	case DriverMemory, "":
		return NewMemoryStore(), nil
	case DriverSQLite:
		return NewSQLiteStore(opts.SQLitePath)
	case DriverRedis:
		return NewRedisStore(ctx, opts.RedisURL, opts.RedisPrefix)
	default:
		return nil, fmt.Errorf("store: unknown driver %q", opts.Driver)
	}
}
