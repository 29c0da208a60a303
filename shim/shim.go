// Package shim provides the compatibility surface of spec.md §6: a
// narrower wrapper around store.DB shaped for a consumer that expects
// get/put/resetReadTxn rather than the full facade, the way the pack's
// bundler-cache-oriented callers use an LMDB environment.
package shim

import (
	"github.com/kvloop/lmdbhost/internal/bridge"
	"github.com/kvloop/lmdbhost/store"
)

// Options configures Open. Name, Encoding and Compression are stored on
// the Wrapper but otherwise unused, mirroring spec.md §6/§9's note that
// this layer never interprets the value bytes it stores.
type Options struct {
	// Name is a caller-chosen label for this store; not interpreted.
	Name string
	// Encoding names the value encoding the caller uses; not interpreted.
	Encoding string
	// Compression names the value compression the caller uses; not
	// interpreted.
	Compression string

	Config store.Config
}

// Wrapper is the compatibility surface: Get reads synchronously, Put
// writes asynchronously, and ResetReadTxn renews the cached snapshot.
type Wrapper struct {
	db          *store.DB
	name        string
	encoding    string
	compression string
}

// Open opens the environment at dir and returns a Wrapper around it.
func Open(dir string, opts Options) (*Wrapper, error) {
	cfg := opts.Config
	cfg.Path = dir
	db, err := store.Open(cfg)
	if err != nil {
		return nil, err
	}
	return &Wrapper{
		db:          db,
		name:        opts.Name,
		encoding:    opts.Encoding,
		compression: opts.Compression,
	}, nil
}

// Get reads key synchronously via the Read Transaction Slot.
func (w *Wrapper) Get(key []byte) ([]byte, error) {
	return w.db.GetSync(key)
}

// Put writes key/val asynchronously, resolving once the enclosing
// transaction commits.
func (w *Wrapper) Put(key string, val []byte) *bridge.Future[struct{}] {
	return w.db.Put([]byte(key), val)
}

// PutString wraps a string value in a byte buffer before writing, the
// convenience spec.md §6 describes as "wraps in a byte buffer".
func (w *Wrapper) PutString(key, val string) *bridge.Future[struct{}] {
	return w.Put(key, []byte(val))
}

// ResetReadTxn renews the cached read transaction to the latest
// committed snapshot.
func (w *Wrapper) ResetReadTxn() error {
	return w.db.ResetReadTxn()
}

// Name returns the label the caller supplied to Open.
func (w *Wrapper) Name() string { return w.name }

// Close releases the underlying store.
func (w *Wrapper) Close() error {
	return w.db.Close()
}
