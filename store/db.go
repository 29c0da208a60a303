package store

import (
	"sync"
	"sync/atomic"

	"github.com/bmatsuo/lmdb-go/lmdb"
	"github.com/rs/zerolog"

	"github.com/kvloop/lmdbhost/internal/bridge"
	"github.com/kvloop/lmdbhost/internal/engine"
	errs "github.com/kvloop/lmdbhost/internal/errors"
	"github.com/kvloop/lmdbhost/internal/metrics"
	"github.com/kvloop/lmdbhost/internal/readslot"
	"github.com/kvloop/lmdbhost/internal/worker"
)

// DB is the Database Facade of spec.md §4.5. It owns one Engine Handle,
// one Read Transaction Slot, and one Write Worker, and is the only type
// host code (or the shim package) needs to hold.
type DB struct {
	eng   *engine.Handle
	slot  *readslot.Slot
	queue *worker.Queue
	wkr   *worker.Worker
	mtr   *metrics.Collector
	log   *zerolog.Logger

	closed atomic.Bool

	txnMu        sync.Mutex
	explicitOpen bool
}

// Open opens (or attaches to) the environment at cfg.Path and starts its
// Write Worker. See spec.md §4.1 and §6.
func Open(cfg Config) (*DB, error) {
	log := cfg.Log
	if log == nil {
		nop := zerolog.Nop()
		log = &nop
	}

	eng, err := engine.Open(cfg.engineConfig(), log)
	if err != nil {
		return nil, err
	}

	slot := readslot.New(eng.Env(), log)
	queue := worker.NewQueue(cfg.QueueCapacity)
	wkr := worker.Start(eng.Env(), eng.DBI(), queue, worker.Options{
		SoftBatchLimit: cfg.SoftBatchLimit,
		ReadPoolSize:   cfg.ReadPoolSize,
		Log:            log,
		Metrics:        cfg.Metrics,
	})

	return &DB{
		eng:   eng,
		slot:  slot,
		queue: queue,
		wkr:   wkr,
		mtr:   cfg.Metrics,
		log:   log,
	}, nil
}

// Get enqueues an async read (spec.md §4.5 get).
func (db *DB) Get(key []byte) *bridge.Future[[]byte] {
	if db.closed.Load() {
		return resolved[[]byte](nil, errs.Closed())
	}
	cmd := worker.NewGetAsync(key)
	if err := db.wkr.Submit(cmd); err != nil {
		return resolved[[]byte](nil, err)
	}
	fut := bridge.NewFuture[[]byte]()
	go func() {
		res := <-cmd.Done()
		if res.Err != nil {
			fut.Resolve(nil, res.Err)
			return
		}
		if !res.Found {
			fut.Resolve(nil, nil)
			return
		}
		fut.Resolve(res.Value, nil)
	}()
	return fut
}

// GetSync reads via the Read Transaction Slot (spec.md §4.5 getSync).
func (db *DB) GetSync(key []byte) ([]byte, error) {
	if db.closed.Load() {
		return nil, errs.Closed()
	}
	var out []byte
	err := db.slot.WithReadTxn(func(txn *lmdb.Txn) error {
		v, err := txn.Get(db.eng.DBI(), key)
		if engine.IsNotFound(err) {
			return nil
		}
		if err != nil {
			return err
		}
		out = append([]byte(nil), v...)
		return nil
	})
	if err != nil {
		return nil, errs.Engine("getSync", err)
	}
	return out, nil
}

// GetMany issues one GetAsync per key, in order, resolving with an
// ordered array (spec.md §4.5 getMany). A key with no value resolves to
// a nil slice at that position.
func (db *DB) GetMany(keys [][]byte) *bridge.Future[[][]byte] {
	if db.closed.Load() {
		return resolved[[][]byte](nil, errs.Closed())
	}
	cmds := make([]*worker.Command, len(keys))
	for i, k := range keys {
		cmds[i] = worker.NewGetAsync(k)
		if err := db.wkr.Submit(cmds[i]); err != nil {
			return resolved[[][]byte](nil, err)
		}
	}
	fut := bridge.NewFuture[[][]byte]()
	go func() {
		out := make([][]byte, len(cmds))
		for i, c := range cmds {
			res := <-c.Done()
			if res.Err != nil {
				fut.Resolve(nil, res.Err)
				return
			}
			if res.Found {
				out[i] = res.Value
			}
		}
		fut.Resolve(out, nil)
	}()
	return fut
}

// Put enqueues a single-key write, resolving on commit of the enclosing
// transaction (spec.md §4.5 put).
func (db *DB) Put(key, value []byte) *bridge.Future[struct{}] {
	return db.submitVoid(worker.NewPut(key, value))
}

// PutMany enqueues a vectored write, atomic within one transaction
// (spec.md §4.5 putMany).
func (db *DB) PutMany(entries []Entry) *bridge.Future[struct{}] {
	es := make([]worker.Entry, len(entries))
	for i, e := range entries {
		es[i] = worker.Entry{Key: e.Key, Value: e.Value}
	}
	return db.submitVoid(worker.NewPutMany(es))
}

// Delete enqueues a key removal (spec.md §4.5 delete).
func (db *DB) Delete(key []byte) *bridge.Future[struct{}] {
	return db.submitVoid(worker.NewDelete(key))
}

// PutNoConfirm enqueues a fire-and-forget put. Legal only between
// StartWriteTransaction and CommitWriteTransaction (spec.md §4.3.2,
// §4.5); the check is synchronous, so an illegal call never reaches the
// worker.
func (db *DB) PutNoConfirm(key, value []byte) error {
	if db.closed.Load() {
		return errs.Closed()
	}
	db.txnMu.Lock()
	open := db.explicitOpen
	db.txnMu.Unlock()
	if !open {
		return errs.NoTransaction()
	}
	return db.wkr.Submit(worker.NewPutNoConfirm(key, value))
}

// StartWriteTransaction begins an explicit write transaction (spec.md
// §4.5 startTransaction/startWriteTransaction).
func (db *DB) StartWriteTransaction() *bridge.Future[struct{}] {
	if db.closed.Load() {
		return resolved[struct{}](struct{}{}, errs.Closed())
	}
	db.txnMu.Lock()
	if db.explicitOpen {
		db.txnMu.Unlock()
		return resolved[struct{}](struct{}{}, errs.TransactionAlreadyOpen())
	}
	db.explicitOpen = true
	db.txnMu.Unlock()

	fut := db.submitVoid(worker.NewStartWrite())
	return onError(fut, func() {
		db.txnMu.Lock()
		db.explicitOpen = false
		db.txnMu.Unlock()
	})
}

// CommitWriteTransaction commits the current explicit write transaction
// (spec.md §4.5 commitTransaction/commitWriteTransaction).
func (db *DB) CommitWriteTransaction() *bridge.Future[struct{}] {
	if db.closed.Load() {
		return resolved[struct{}](struct{}{}, errs.Closed())
	}
	db.txnMu.Lock()
	if !db.explicitOpen {
		db.txnMu.Unlock()
		return resolved[struct{}](struct{}{}, errs.NoTransaction())
	}
	db.explicitOpen = false
	db.txnMu.Unlock()
	return db.submitVoid(worker.NewCommitWrite())
}

// AbortWriteTransaction aborts the current explicit write transaction.
// Not named in spec.md's host-visible table but backed by the §4.3
// AbortWrite command, exposed as the natural complement to
// StartWriteTransaction/CommitWriteTransaction.
func (db *DB) AbortWriteTransaction() *bridge.Future[struct{}] {
	if db.closed.Load() {
		return resolved[struct{}](struct{}{}, errs.Closed())
	}
	db.txnMu.Lock()
	if !db.explicitOpen {
		db.txnMu.Unlock()
		return resolved[struct{}](struct{}{}, errs.NoTransaction())
	}
	db.explicitOpen = false
	db.txnMu.Unlock()
	return db.submitVoid(worker.NewAbortWrite())
}

// StartReadTransaction begins (or reuses) the cached read transaction
// (spec.md §4.2/§4.5).
func (db *DB) StartReadTransaction() error {
	if db.closed.Load() {
		return errs.Closed()
	}
	return db.slot.StartRead()
}

// CommitReadTransaction ends the cached read transaction's snapshot
// (spec.md §4.2/§4.5). Read transactions have nothing to persist; ending
// one simply releases its reader-lock-table slot.
func (db *DB) CommitReadTransaction() error {
	if db.closed.Load() {
		return errs.Closed()
	}
	db.slot.EndRead()
	return nil
}

// ResetReadTxn renews the cached read transaction to the latest committed
// snapshot (spec.md §4.2/§4.5).
func (db *DB) ResetReadTxn() error {
	if db.closed.Load() {
		return errs.Closed()
	}
	return db.slot.ResetRead()
}

// ReaderList dumps the engine's reader lock table, one line per call to
// fn (spec.md §3's reader-lock-table accounting, exposed for the
// benchmark harness's readerlist subcommand).
func (db *DB) ReaderList(fn func(string) error) error {
	if db.closed.Load() {
		return errs.Closed()
	}
	return db.eng.ReaderList(fn)
}

// ReaderCheck clears stale reader-lock-table entries and returns the
// count cleared.
func (db *DB) ReaderCheck() (int, error) {
	if db.closed.Load() {
		return 0, errs.Closed()
	}
	return db.eng.ReaderCheck()
}

// Close drains the Write Worker, closes the Read Transaction Slot, and
// releases the Engine Handle (spec.md §3 invariant 5, §4.5 close).
// Idempotent.
func (db *DB) Close() error {
	if !db.closed.CompareAndSwap(false, true) {
		return nil
	}
	cmd := worker.NewShutdown()
	if err := db.wkr.Submit(cmd); err == nil {
		<-cmd.Done()
	}
	<-db.wkr.Halter().Done.Chan
	db.queue.Close()
	db.slot.Close()
	return db.eng.Close()
}

func (db *DB) submitVoid(cmd *worker.Command) *bridge.Future[struct{}] {
	if db.closed.Load() {
		return resolved[struct{}](struct{}{}, errs.Closed())
	}
	if err := db.wkr.Submit(cmd); err != nil {
		return resolved[struct{}](struct{}{}, err)
	}
	fut := bridge.NewFuture[struct{}]()
	go func() {
		res := <-cmd.Done()
		fut.Resolve(struct{}{}, res.Err)
	}()
	return fut
}

func resolved[T any](val T, err error) *bridge.Future[T] {
	fut := bridge.NewFuture[T]()
	fut.Resolve(val, err)
	return fut
}

// onError runs fn once fut resolves with a non-nil error. It returns a new
// future that resolves with fut's value and error after fn has run.
func onError(fut *bridge.Future[struct{}], fn func()) *bridge.Future[struct{}] {
	out := bridge.NewFuture[struct{}]()
	go func() {
		<-fut.Done()
		v, err := fut.Result()
		if err != nil {
			fn()
		}
		out.Resolve(v, err)
	}()
	return out
}
