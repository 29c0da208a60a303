// Package store implements the Database Facade of spec.md §4.5: the
// host-visible object dispatching sync reads directly and async
// reads/writes through the Write Worker and Completion Bridge.
package store

import (
	"github.com/rs/zerolog"

	"github.com/kvloop/lmdbhost/internal/engine"
	"github.com/kvloop/lmdbhost/internal/metrics"
)

// Config is the configuration object accepted by Open (spec.md §6).
type Config struct {
	// Path is the environment's filesystem directory (required).
	Path string
	// MapSize is the maximum on-disk size in bytes. Zero uses
	// engine.DefaultMapSize.
	MapSize int64
	// AsyncWrites, if true, lets the engine defer fsync of committed
	// transactions (spec.md §3).
	AsyncWrites bool
	// MaxReaders bounds the engine's reader lock table. Zero uses
	// engine.DefaultMaxReaders.
	MaxReaders int
	// SoftBatchLimit forces a commit of an implicit (auto-batched)
	// transaction once this many writes have accumulated, bounding
	// worst-case commit latency under sustained load. Zero disables the
	// bound (spec.md §4.3.1's recommended default: commit on empty queue
	// only).
	SoftBatchLimit int
	// ReadPoolSize bounds concurrent GetAsync execution (spec.md §5).
	// Zero uses worker.DefaultReadPoolSize.
	ReadPoolSize int
	// QueueCapacity bounds the Command Channel; zero means unbounded
	// (spec.md §4.4's baseline).
	QueueCapacity int
	// Log receives structured diagnostics from every layer; nil gets a
	// no-op logger.
	Log *zerolog.Logger
	// Metrics, if set, receives queue-depth/commit/mapfull counters.
	Metrics *metrics.Collector
}

func (c Config) engineConfig() engine.Config {
	return engine.Config{
		Path:        c.Path,
		MapSize:     c.MapSize,
		AsyncWrites: c.AsyncWrites,
		MaxReaders:  c.MaxReaders,
	}
}

// Entry is one key/value pair of a vectored PutMany call.
type Entry struct {
	Key   []byte
	Value []byte
}
