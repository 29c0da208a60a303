package worker

import (
	"context"
	"runtime"
	"sync"
	"time"

	"github.com/bmatsuo/lmdb-go/lmdb"
	"github.com/glycerine/idem"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/kvloop/lmdbhost/internal/engine"
	errs "github.com/kvloop/lmdbhost/internal/errors"
)

// DefaultReadPoolSize bounds how many GetAsync commands may run their
// read transactions concurrently, off the write worker's own OS thread
// (spec.md §5: "Optionally, async reads may be served by a small
// parallel pool").
const DefaultReadPoolSize = 8

// Metrics is the subset of internal/metrics.Collector the Worker reports
// through; kept as a small interface here so the worker package does not
// import metrics (metrics imports nothing from worker either — this
// avoids a cycle while still letting store wire a real collector in).
type Metrics interface {
	SetQueueDepth(int)
	ObserveCommit(time.Duration)
	IncCommits()
	IncMapFull()
}

type nopMetrics struct{}

func (nopMetrics) SetQueueDepth(int)           {}
func (nopMetrics) ObserveCommit(time.Duration) {}
func (nopMetrics) IncCommits()                 {}
func (nopMetrics) IncMapFull()                 {}

// Options configures a Worker beyond the required env/dbi/queue.
type Options struct {
	// SoftBatchLimit forces a commit of an implicit transaction once this
	// many writes have accumulated, even if the queue still has more
	// waiting (spec.md §4.3.1 step 3, "a configurable soft bound"). Zero
	// disables the bound (commit-on-empty-queue only), which is
	// spec.md's recommended default.
	SoftBatchLimit int
	// ReadPoolSize bounds concurrent GetAsync execution (spec.md §5).
	// Zero uses DefaultReadPoolSize.
	ReadPoolSize int
	Log          *zerolog.Logger
	Metrics      Metrics
}

// Worker is the Write Worker of spec.md §4.3: a dedicated OS thread that
// owns every write transaction's lifetime. Grounded on the teacher's
// sphynxReadWorker (an idem.Halter-guarded goroutine locked to its OS
// thread via runtime.LockOSThread, draining a jobs channel) generalized
// from read-only jobs to the full write command set, and on the
// etcd backend's batchTx pending-counter/commit-boundary shape for the
// auto-batching policy.
type Worker struct {
	env *lmdb.Env
	dbi lmdb.DBI

	queue *Queue
	halt  *idem.Halter
	log   *zerolog.Logger
	mtr   Metrics

	readPool       *semaphore.Weighted
	reads          sync.WaitGroup
	softBatchLimit int

	// The following fields are touched only by the worker goroutine; no
	// lock needed (invariant: at most one outstanding write transaction
	// per Environment at any instant, and only this goroutine ever
	// begins/commits/aborts one).
	curTxn   *lmdb.Txn
	explicit bool
	pending  []*Command // commands participating in curTxn
	txnErr   error      // latched PutNoConfirm error, reported at commit
}

// Start launches the Write Worker goroutine and returns immediately; the
// goroutine runs until a Shutdown command is processed or the queue is
// closed and drained.
func Start(env *lmdb.Env, dbi lmdb.DBI, queue *Queue, opts Options) *Worker {
	if opts.Log == nil {
		nop := zerolog.Nop()
		opts.Log = &nop
	}
	if opts.Metrics == nil {
		opts.Metrics = nopMetrics{}
	}
	if opts.ReadPoolSize <= 0 {
		opts.ReadPoolSize = DefaultReadPoolSize
	}
	w := &Worker{
		env:            env,
		dbi:            dbi,
		queue:          queue,
		halt:           idem.NewHalter(),
		log:            opts.Log,
		mtr:            opts.Metrics,
		readPool:       semaphore.NewWeighted(int64(opts.ReadPoolSize)),
		softBatchLimit: opts.SoftBatchLimit,
	}
	go w.run()
	return w
}

// Submit enqueues cmd on the Command Channel.
func (w *Worker) Submit(cmd *Command) error {
	return w.queue.Push(cmd)
}

// QueueDepth reports the number of pending commands, for metrics/tests.
func (w *Worker) QueueDepth() int { return w.queue.Len() }

// Halter exposes the idem.Halter so callers (the facade's Close) can wait
// for the worker goroutine to fully exit after Shutdown is submitted.
func (w *Worker) Halter() *idem.Halter { return w.halt }

func (w *Worker) run() {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer w.halt.Done.Close()

	for {
		cmd, ok := w.queue.Pop()
		if !ok {
			w.abortOpenTxn(errs.New(errs.KindClosed, "command queue closed"))
			return
		}
		w.mtr.SetQueueDepth(w.queue.Len())
		if w.handleOne(cmd) {
			return
		}
	}
}

// handleOne dispatches a single command. It returns true when the worker
// should exit its loop (Shutdown processed).
func (w *Worker) handleOne(cmd *Command) (stop bool) {
	switch cmd.Kind {
	case KindPut, KindPutMany, KindDelete, KindPutNoConfirm:
		if w.curTxn == nil {
			if err := w.beginTxn(false); err != nil {
				cmd.complete(Result{Err: err})
				return false
			}
		}
		aborted := w.execWrite(cmd)
		if !aborted && !w.explicit {
			return w.autoBatchDrain()
		}
		return false

	case KindStartWrite:
		if w.curTxn != nil && w.explicit {
			cmd.complete(Result{Err: errs.TransactionAlreadyOpen()})
			return false
		}
		if w.curTxn != nil && !w.explicit {
			// flush the implicit batch before opening the explicit window
			w.commitImplicit()
		}
		if err := w.beginTxn(true); err != nil {
			cmd.complete(Result{Err: err})
			return false
		}
		cmd.complete(Result{})
		return false

	case KindCommitWrite:
		if w.curTxn == nil || !w.explicit {
			cmd.complete(Result{Err: errs.NoTransaction()})
			return false
		}
		w.pending = append(w.pending, cmd)
		w.commitCurrent()
		return false

	case KindAbortWrite:
		if w.curTxn == nil || !w.explicit {
			cmd.complete(Result{Err: errs.NoTransaction()})
			return false
		}
		w.curTxn.Abort()
		w.log.Debug().Msg("lmdbhost: explicit write transaction aborted")
		abortErr := errs.New(errs.KindEngineError, "transaction aborted")
		for _, p := range w.pending {
			p.complete(Result{Err: abortErr})
		}
		w.resetTxnState()
		cmd.complete(Result{})
		return false

	case KindGetAsync:
		w.dispatchGet(cmd)
		return false

	case KindShutdown:
		w.abortOpenTxn(errs.New(errs.KindClosed, "environment closing"))
		w.reads.Wait()
		cmd.complete(Result{})
		return true
	}
	return false
}

// dispatchGet hands cmd to the bounded read pool so the write worker's
// OS thread is never blocked waiting on a reader (spec.md §5); reads
// never participate in curTxn and so never contend with the single
// write transaction in flight.
func (w *Worker) dispatchGet(cmd *Command) {
	w.reads.Add(1)
	go func() {
		defer w.reads.Done()
		// the teacher's sphynxReadWorker pins its goroutine to an OS
		// thread for the same reason: LMDB read transactions retain
		// thread affinity for their lifetime.
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
		if err := w.readPool.Acquire(context.Background(), 1); err != nil {
			cmd.complete(Result{Err: errs.Engine("get", err)})
			return
		}
		defer w.readPool.Release(1)
		w.execGet(cmd)
	}()
}

func (w *Worker) beginTxn(explicit bool) error {
	txn, err := w.env.BeginTxn(nil, 0)
	if err != nil {
		return w.wrapEngineErr("begin write txn", err)
	}
	w.curTxn = txn
	w.explicit = explicit
	w.pending = nil
	w.txnErr = nil
	return nil
}

func (w *Worker) resetTxnState() {
	w.curTxn = nil
	w.explicit = false
	w.pending = nil
	w.txnErr = nil
}

// execWrite applies one write command to the open transaction. It
// returns true if the transaction was aborted (an immediate per-key
// error, spec.md §4.3.3); PutNoConfirm errors are latched instead
// (spec.md §4.3.2) and do not abort immediately.
func (w *Worker) execWrite(cmd *Command) (aborted bool) {
	var err error
	var errKey []byte
	switch cmd.Kind {
	case KindPut:
		err = w.curTxn.Put(w.dbi, cmd.Key, cmd.Value, 0)
		errKey = cmd.Key
	case KindPutMany:
		for _, e := range cmd.Entries {
			if err = w.curTxn.Put(w.dbi, e.Key, e.Value, 0); err != nil {
				errKey = e.Key
				break
			}
		}
	case KindDelete:
		err = w.curTxn.Del(w.dbi, cmd.Key, nil)
		errKey = cmd.Key
		if engine.IsNotFound(err) {
			err = nil // deleting an absent key is not a failure
		}
	case KindPutNoConfirm:
		err = w.curTxn.Put(w.dbi, cmd.Key, cmd.Value, 0)
		if err != nil {
			if w.txnErr == nil {
				w.txnErr = w.wrapWriteErr("put (no-confirm)", cmd.Key, err)
			}
			return false
		}
	}

	if cmd.Kind != KindPutNoConfirm {
		w.pending = append(w.pending, cmd)
	}

	if err != nil {
		wrapped := w.wrapWriteErr(cmd.Kind.String(), errKey, err)
		w.curTxn.Abort()
		w.log.Warn().Str("op", cmd.Kind.String()).Err(wrapped).Msg("lmdbhost: write failed, transaction aborted")
		for _, p := range w.pending {
			p.complete(Result{Err: wrapped})
		}
		w.resetTxnState()
		return true
	}
	return false
}

// wrapWriteErr classifies a failed Put/PutMany/PutNoConfirm error, using
// key to distinguish KeyTooLarge from ValueTooLarge when the engine
// reports MDB_BAD_VALSIZE (spec.md §7): the engine raises the same errno
// for either, so the key's length against the engine's own limit is what
// tells them apart.
func (w *Worker) wrapWriteErr(op string, key []byte, err error) error {
	if engine.IsBadValSize(err) {
		if len(key) > w.env.MaxKeySize() {
			return errs.KeyTooLarge()
		}
		return errs.ValueTooLarge()
	}
	return w.wrapEngineErr(op, err)
}

// autoBatchDrain keeps pulling write commands off the queue into the
// current implicit transaction until the queue is momentarily empty, a
// non-write command reaches the head, or the number of pending writes
// reaches the soft batch limit (spec.md §4.3.1). A non-write command found
// at the head is handled here; the return value is handleOne's stop result
// for it, so a Shutdown seen mid-drain still ends the worker loop.
func (w *Worker) autoBatchDrain() (stop bool) {
	for {
		cmd, ok := w.queue.TryPop()
		if !ok {
			w.commitImplicit()
			return false
		}
		if cmd.Kind.isWrite() {
			if w.curTxn == nil {
				if err := w.beginTxn(false); err != nil {
					cmd.complete(Result{Err: err})
					continue
				}
			}
			if aborted := w.execWrite(cmd); aborted {
				return false
			}
			if w.softBatchLimit > 0 && len(w.pending) >= w.softBatchLimit {
				w.commitImplicit()
			}
			continue
		}
		w.commitImplicit()
		return w.handleOne(cmd)
	}
}

// commitImplicit commits the current implicit transaction, if any.
func (w *Worker) commitImplicit() {
	if w.curTxn == nil || w.explicit {
		return
	}
	w.commitCurrent()
}

// commitCurrent commits (or, if a PutNoConfirm error was latched, aborts
// and reports that error to) the current transaction and fans the
// outcome out to every participating command, in enqueue order
// (spec.md §4.3.1 step 4).
func (w *Worker) commitCurrent() {
	pending := w.pending
	txn := w.curTxn

	if w.txnErr != nil {
		txn.Abort()
		err := w.txnErr
		w.log.Warn().Err(err).Msg("lmdbhost: commit aborted due to latched no-confirm error")
		for _, p := range pending {
			p.complete(Result{Err: err})
		}
		w.resetTxnState()
		return
	}

	start := time.Now()
	err := txn.Commit()
	w.mtr.ObserveCommit(time.Since(start))

	if err != nil {
		var reported error
		switch {
		case engine.IsMapFull(err):
			reported = errs.MapFull(err)
			w.mtr.IncMapFull()
		case engine.IsBadValSize(err):
			// Put-time validation (wrapWriteErr) should have already
			// latched or aborted on an oversized key/value; this is a
			// defensive fallback in case the engine only rejects it at
			// commit.
			reported = errs.ValueTooLarge()
		default:
			reported = w.wrapEngineErr("commit", err)
		}
		w.log.Error().Err(reported).Msg("lmdbhost: commit failed")
		for _, p := range pending {
			p.complete(Result{Err: reported})
		}
		w.resetTxnState()
		return
	}

	w.mtr.IncCommits()
	for _, p := range pending {
		p.complete(Result{})
	}
	w.resetTxnState()
}

// execGet runs a GetAsync command on a fresh, short-lived read
// transaction (spec.md §4.3), independent of any open write transaction.
// The worker never retains this transaction past the single command
// (invariant: it never holds a read transaction).
func (w *Worker) execGet(cmd *Command) {
	txn, err := w.env.BeginTxn(nil, lmdb.Readonly)
	if err != nil {
		cmd.complete(Result{Err: w.wrapEngineErr("begin read txn", err)})
		return
	}
	defer txn.Abort()

	val, err := txn.Get(w.dbi, cmd.Key)
	if engine.IsNotFound(err) {
		cmd.complete(Result{Found: false})
		return
	}
	if err != nil {
		cmd.complete(Result{Err: w.wrapEngineErr("get", err)})
		return
	}
	cp := make([]byte, len(val))
	copy(cp, val)
	cmd.complete(Result{Value: cp, Found: true})
}

// abortOpenTxn discards any open transaction and fans err out to every
// pending command, used on Shutdown and on queue closure (spec.md §3
// invariant 5: closing drains or aborts all pending commands).
func (w *Worker) abortOpenTxn(err error) {
	if w.curTxn == nil {
		return
	}
	w.curTxn.Abort()
	for _, p := range w.pending {
		p.complete(Result{Err: err})
	}
	w.resetTxnState()
}

func (w *Worker) wrapEngineErr(op string, err error) error {
	if engine.IsMapFull(err) {
		return errs.MapFull(err)
	}
	return errs.Engine(op, err)
}
