// Package engine implements the Engine Handle (spec §4.1): it opens the
// LMDB environment and the default sub-database, deduplicates opens by
// canonicalized path, and exposes the passthroughs (Stat, Info,
// ReaderList, ReaderCheck) the teacher's Env type already had.
//
// The actual engine is github.com/bmatsuo/lmdb-go/lmdb, the real cgo LMDB
// binding the teacher's API shape (BeginTxn/View/Update/OpenDBI) is
// modeled on; spec.md treats the engine itself as an external collaborator
// reached only through env.open/read_txn/write_txn/get/put/commit/abort.
package engine

import (
	"errors"
	"os"
	"path/filepath"
	"sync"

	"github.com/bmatsuo/lmdb-go/lmdb"
	"github.com/rs/zerolog"

	errs "github.com/kvloop/lmdbhost/internal/errors"
)

// DefaultMapSize matches spec.md §3's "large, e.g. 50 GiB" default.
const DefaultMapSize = 50 << 30

// DefaultMaxReaders mirrors the teacher's NewEnv default of 256 concurrent
// readers; the worker pool of async readers (spec.md §5) shares this cap.
const DefaultMaxReaders = 256

// Config is the immutable-after-open environment configuration of
// spec.md §3/§6.
type Config struct {
	Path        string
	MapSize     int64
	AsyncWrites bool
	MaxReaders  int
	// FileMode is applied to newly created environment files.
	FileMode os.FileMode
}

func (c Config) withDefaults() Config {
	if c.MapSize <= 0 {
		c.MapSize = DefaultMapSize
	}
	if c.MaxReaders <= 0 {
		c.MaxReaders = DefaultMaxReaders
	}
	if c.FileMode == 0 {
		c.FileMode = 0664
	}
	return c
}

// Handle is the host-visible, reference-counted, cloneable-by-reference
// Engine Handle of spec.md §4.1.
type Handle struct {
	path string
	env  *lmdb.Env
	dbi  lmdb.DBI
	log  *zerolog.Logger

	closeOnce sync.Once
}

// shared deduplicates opens of the same canonicalized path within a
// process (spec.md §3: "At most one Environment per path per process").
// Not present in the retrieved teacher env.go; a refcount in a plain map
// guarded by a sync.Mutex is the simplest faithful reading of the invariant.
type shared struct {
	mu    sync.Mutex
	env   *lmdb.Env
	dbi   lmdb.DBI
	count int
}

var (
	registryMu sync.Mutex
	registry   = map[string]*shared{}
)

func canonicalize(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	return filepath.Clean(abs), nil
}

// Open opens (or attaches a new reference to an already-open) environment
// at path, per spec.md §4.1.
func Open(cfg Config, log *zerolog.Logger) (*Handle, error) {
	cfg = cfg.withDefaults()
	if log == nil {
		nop := zerolog.Nop()
		log = &nop
	}

	key, err := canonicalize(cfg.Path)
	if err != nil {
		return nil, errs.OpenError(err)
	}

	// registryMu is held for the whole open, so concurrent first opens of
	// one path cannot both create an environment.
	registryMu.Lock()
	defer registryMu.Unlock()
	sh, ok := registry[key]
	if ok {
		sh.mu.Lock()
		sh.count++
		sh.mu.Unlock()
		log.Debug().Str("path", key).Int("refcount", sh.count).Msg("lmdbhost: attached to existing environment")
		return &Handle{path: key, env: sh.env, dbi: sh.dbi, log: log}, nil
	}

	if err := os.MkdirAll(cfg.Path, 0755); err != nil {
		return nil, errs.OpenError(err)
	}

	env, err := lmdb.NewEnv()
	if err != nil {
		return nil, errs.OpenError(err)
	}
	if err := env.SetMapSize(int(cfg.MapSize)); err != nil {
		env.Close()
		return nil, errs.OpenError(err)
	}
	if err := env.SetMaxDBs(1); err != nil {
		env.Close()
		return nil, errs.OpenError(err)
	}
	if err := env.SetMaxReaders(cfg.MaxReaders); err != nil {
		env.Close()
		return nil, errs.OpenError(err)
	}

	// NoTLS is always set, the way the teacher's own Env.Open always
	// passes NoTLS|flags to mdb_env_open: without it, reader locktable
	// slots are tied to the OS thread that created them, but a cached
	// read transaction (internal/readslot.Slot) is resumed across calls
	// from an ordinary, non-pinned goroutine that the Go scheduler is
	// free to migrate between OS threads.
	flags := uint(lmdb.NoTLS)
	if cfg.AsyncWrites {
		flags |= lmdb.NoSync
	}
	if err := env.Open(cfg.Path, flags, cfg.FileMode); err != nil {
		env.Close()
		return nil, errs.OpenError(err)
	}

	var dbi lmdb.DBI
	err = env.Update(func(txn *lmdb.Txn) error {
		var err error
		dbi, err = txn.OpenRoot(lmdb.Create)
		return err
	})
	if err != nil {
		env.Close()
		return nil, errs.OpenError(err)
	}

	sh = &shared{env: env, dbi: dbi, count: 1}
	registry[key] = sh

	log.Info().Str("path", key).Int64("mapSize", cfg.MapSize).Bool("asyncWrites", cfg.AsyncWrites).Msg("lmdbhost: environment opened")

	return &Handle{path: key, env: env, dbi: dbi, log: log}, nil
}

// Env exposes the underlying *lmdb.Env for the worker and read-slot
// packages; it is not part of the host-visible facade.
func (h *Handle) Env() *lmdb.Env { return h.env }

// DBI returns the default sub-database handle.
func (h *Handle) DBI() lmdb.DBI { return h.dbi }

// MaxKeySize returns the engine's maximum key length (spec.md §3).
func (h *Handle) MaxKeySize() int { return h.env.MaxKeySize() }

// Close drops this handle's reference, closing the underlying environment
// once the last reference to its canonicalized path is released.
// Idempotent.
func (h *Handle) Close() error {
	var err error
	h.closeOnce.Do(func() {
		registryMu.Lock()
		sh, ok := registry[h.path]
		if !ok {
			registryMu.Unlock()
			return
		}
		sh.mu.Lock()
		sh.count--
		remaining := sh.count
		sh.mu.Unlock()
		if remaining > 0 {
			registryMu.Unlock()
			h.log.Debug().Str("path", h.path).Int("refcount", remaining).Msg("lmdbhost: released environment reference")
			return
		}
		delete(registry, h.path)
		registryMu.Unlock()

		h.env.Close()
		h.log.Info().Str("path", h.path).Msg("lmdbhost: environment closed")
	})
	return err
}

// Stat returns statistics about the environment (kept from the teacher's
// Env.Stat, adapted to wrap lmdb.Stat).
func (h *Handle) Stat() (*lmdb.Stat, error) {
	return h.env.Stat()
}

// Info returns information about the environment (kept from the
// teacher's Env.Info).
func (h *Handle) Info() (*lmdb.Info, error) {
	return h.env.Info()
}

// ReaderList dumps the reader lock table (kept from the teacher's
// Env.ReaderList), used by the benchmark harness's readerlist subcommand.
func (h *Handle) ReaderList(fn func(string) error) error {
	return h.env.ReaderList(fn)
}

// ReaderCheck clears stale reader-lock-table entries (kept from the
// teacher's Env.ReaderCheck) and returns the count cleared.
func (h *Handle) ReaderCheck() (int, error) {
	return h.env.ReaderCheck()
}

// IsMapFull reports whether err is the engine's MDB_MAP_FULL, the
// distinguished error kind of spec.md §7.
func IsMapFull(err error) bool {
	var opErr *lmdb.OpError
	if errors.As(err, &opErr) {
		return opErr.Errno == lmdb.MapFull
	}
	return false
}

// IsNotFound reports whether err is the engine's "key not found", which
// the facade translates into a nil result rather than an error
// (spec.md §7: NotFound is internal).
func IsNotFound(err error) bool {
	return lmdb.IsNotFound(err)
}

// IsBadValSize reports whether err is the engine's MDB_BAD_VALSIZE, raised
// when a key or value exceeds the engine's size limits (spec.md §7's
// KeyTooLarge/ValueTooLarge).
func IsBadValSize(err error) bool {
	var opErr *lmdb.OpError
	if errors.As(err, &opErr) {
		return opErr.Errno == lmdb.BadValSize
	}
	return false
}
