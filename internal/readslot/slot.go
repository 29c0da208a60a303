// Package readslot implements the Read Transaction Slot of spec.md §4.2:
// a per-host-caller cached read transaction, renewable on demand.
//
// The teacher (glycerine-lmdb-go/lmdb) keys a *pool* of such slots by
// goroutine id so that many concurrent readers can each own one out of a
// fixed-size pool (GetOrWaitForReadSlot/ReturnReadSlot, guarded by
// rkeyMu/rkeyCond). spec.md §4.2 and §5 describe a simpler model for this
// core: the host domain is a single cooperative event loop, so there is
// exactly one logical caller and exactly one slot. We drop the teacher's
// wait-for-a-free-slot machinery, since there is never contention for the
// single slot by construction — a second concurrent use is a caller bug,
// not backpressure. The slot does not check which goroutine uses it.
package readslot

import (
	"fmt"
	"sync"

	"github.com/bmatsuo/lmdb-go/lmdb"
	"github.com/rs/zerolog"
)

// Slot holds at most one active read transaction for its owner.
type Slot struct {
	mu  sync.Mutex
	env *lmdb.Env
	txn *lmdb.Txn
	log *zerolog.Logger
}

// New creates a Slot bound to env. log may be nil.
func New(env *lmdb.Env, log *zerolog.Logger) *Slot {
	if log == nil {
		nop := zerolog.Nop()
		log = &nop
	}
	return &Slot{env: env, log: log}
}

// StartRead begins (or reuses) the cached read transaction. Idempotent:
// calling it twice in a row with no intervening EndRead is a no-op.
func (s *Slot) StartRead() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.txn != nil {
		return nil
	}
	txn, err := s.env.BeginTxn(nil, lmdb.Readonly)
	if err != nil {
		return err
	}
	s.txn = txn
	return nil
}

// EndRead aborts and discards the stored read transaction, if any. Safe
// to call when none exists.
func (s *Slot) EndRead() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.txn == nil {
		return
	}
	s.txn.Abort()
	s.txn = nil
}

// ResetRead renews the stored read transaction to observe the latest
// committed snapshot. A no-op if no slot entry exists (spec.md §4.2).
func (s *Slot) ResetRead() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.txn == nil {
		return nil
	}
	s.txn.Reset()
	if err := s.txn.Renew(); err != nil {
		// the native renew primitive failed; fall back to abort+recreate
		// rather than leaving the slot in a half-reset state.
		s.txn.Abort()
		s.txn = nil
		txn, err2 := s.env.BeginTxn(nil, lmdb.Readonly)
		if err2 != nil {
			return err2
		}
		s.txn = txn
		return nil
	}
	return nil
}

// WithReadTxn invokes f with the slot's transaction if one exists,
// otherwise with a short-lived transaction created and discarded around
// the call (spec.md §4.2).
func (s *Slot) WithReadTxn(f func(txn *lmdb.Txn) error) error {
	s.mu.Lock()
	if s.txn != nil {
		txn := s.txn
		s.mu.Unlock()
		return f(txn)
	}
	s.mu.Unlock()

	txn, err := s.env.BeginTxn(nil, lmdb.Readonly)
	if err != nil {
		return err
	}
	defer txn.Abort()
	return f(txn)
}

// Close aborts any outstanding read transaction; called from
// Environment close to satisfy spec.md §3 invariant 5.
func (s *Slot) Close() {
	s.EndRead()
}

func (s *Slot) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fmt.Sprintf("readslot.Slot{active=%v}", s.txn != nil)
}
