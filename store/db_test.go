package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/kvloop/lmdbhost/internal/bridge"
	errs "github.com/kvloop/lmdbhost/internal/errors"
)

func setup(t *testing.T) *DB {
	t.Helper()
	dir, err := os.MkdirTemp("", "lmdbhost-store-")
	if err != nil {
		t.Fatal(err)
	}
	db, err := Open(Config{Path: dir, MapSize: 1 << 20})
	if err != nil {
		os.RemoveAll(dir)
		t.Fatal(err)
	}
	t.Cleanup(func() {
		db.Close()
		os.RemoveAll(dir)
	})
	return db
}

func await[T any](t *testing.T, fut interface {
	Wait(context.Context) (T, error)
}) (T, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return fut.Wait(ctx)
}

func TestPutGetRoundTrip(t *testing.T) {
	db := setup(t)

	if _, err := await[struct{}](t, db.Put([]byte("k1"), []byte("v1"))); err != nil {
		t.Fatal(err)
	}

	got, err := await[[]byte](t, db.Get([]byte("k1")))
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "v1" {
		t.Errorf("got %q, want %q", got, "v1")
	}
}

func TestGetMissingKeyReturnsNil(t *testing.T) {
	db := setup(t)

	got, err := await[[]byte](t, db.Get([]byte("absent")))
	if err != nil {
		t.Fatal(err)
	}
	if got != nil {
		t.Errorf("got %v, want nil", got)
	}
}

func TestGetSyncRoundTrip(t *testing.T) {
	db := setup(t)

	if _, err := await[struct{}](t, db.Put([]byte("a"), []byte("1"))); err != nil {
		t.Fatal(err)
	}
	v, err := db.GetSync([]byte("a"))
	if err != nil {
		t.Fatal(err)
	}
	if string(v) != "1" {
		t.Errorf("got %q, want %q", v, "1")
	}
}

func TestGetManyPreservesOrder(t *testing.T) {
	db := setup(t)

	entries := []Entry{
		{Key: []byte("x"), Value: []byte("1")},
		{Key: []byte("y"), Value: []byte("2")},
	}
	if _, err := await[struct{}](t, db.PutMany(entries)); err != nil {
		t.Fatal(err)
	}

	got, err := await[[][]byte](t, db.GetMany([][]byte{[]byte("y"), []byte("missing"), []byte("x")}))
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d results, want 3", len(got))
	}
	if string(got[0]) != "2" || got[1] != nil || string(got[2]) != "1" {
		t.Errorf("got %v", got)
	}
}

func TestDeleteAbsentKeyIsNotAnError(t *testing.T) {
	db := setup(t)

	if _, err := await[struct{}](t, db.Delete([]byte("never-existed"))); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestExplicitWriteTransactionCommits(t *testing.T) {
	db := setup(t)

	if _, err := await[struct{}](t, db.StartWriteTransaction()); err != nil {
		t.Fatal(err)
	}
	putFut := db.Put([]byte("tx"), []byte("committed"))
	if _, err := await[struct{}](t, db.CommitWriteTransaction()); err != nil {
		t.Fatal(err)
	}
	if _, err := await[struct{}](t, putFut); err != nil {
		t.Fatal(err)
	}

	v, err := db.GetSync([]byte("tx"))
	if err != nil {
		t.Fatal(err)
	}
	if string(v) != "committed" {
		t.Errorf("got %q", v)
	}
}

func TestExplicitWriteTransactionAbortDiscardsWrites(t *testing.T) {
	db := setup(t)

	if _, err := await[struct{}](t, db.StartWriteTransaction()); err != nil {
		t.Fatal(err)
	}
	putFut := db.Put([]byte("aborted"), []byte("never"))
	if _, err := await[struct{}](t, db.AbortWriteTransaction()); err != nil {
		t.Fatal(err)
	}
	if _, err := await[struct{}](t, putFut); err == nil {
		t.Error("expected the put to fail after abort")
	}

	v, err := db.GetSync([]byte("aborted"))
	if err != nil {
		t.Fatal(err)
	}
	if v != nil {
		t.Errorf("got %q, want nil", v)
	}
}

func TestDoubleStartWriteTransactionFails(t *testing.T) {
	db := setup(t)

	if _, err := await[struct{}](t, db.StartWriteTransaction()); err != nil {
		t.Fatal(err)
	}
	defer db.CommitWriteTransaction()

	_, err := await[struct{}](t, db.StartWriteTransaction())
	var e *errs.Error
	if !errors.As(err, &e) || e.Kind != errs.KindTransactionAlreadyOpen {
		t.Errorf("got %v, want TransactionAlreadyOpen", err)
	}
}

func TestPutNoConfirmOutsideTransactionIsRejectedSynchronously(t *testing.T) {
	db := setup(t)

	err := db.PutNoConfirm([]byte("k"), []byte("v"))
	var e *errs.Error
	if !errors.As(err, &e) || e.Kind != errs.KindNoTransaction {
		t.Errorf("got %v, want NoTransaction", err)
	}
}

func TestPutNoConfirmInsideTransactionIsLatchedAtCommit(t *testing.T) {
	db := setup(t)

	if _, err := await[struct{}](t, db.StartWriteTransaction()); err != nil {
		t.Fatal(err)
	}
	// an oversized key forces the underlying put to fail; the error must
	// surface at commit time, not here.
	oversized := make([]byte, 1<<16)
	if err := db.PutNoConfirm(oversized, []byte("v")); err != nil {
		t.Fatalf("PutNoConfirm should not fail synchronously: %v", err)
	}
	_, err := await[struct{}](t, db.CommitWriteTransaction())
	if err == nil {
		t.Fatal("expected the commit to report the latched error")
	}
	var e *errs.Error
	if !errors.As(err, &e) || e.Kind != errs.KindKeyTooLarge {
		t.Errorf("commit error = %v, want Kind %s", err, errs.KindKeyTooLarge)
	}
}

func TestExplicitWriteTransactionBatchCommits(t *testing.T) {
	db := setup(t)

	if _, err := await[struct{}](t, db.StartWriteTransaction()); err != nil {
		t.Fatal(err)
	}
	const n = 500
	futs := make([]*bridge.Future[struct{}], n)
	for i := 0; i < n; i++ {
		futs[i] = db.Put(batchKey(i), batchValue(i))
	}
	if _, err := await[struct{}](t, db.CommitWriteTransaction()); err != nil {
		t.Fatal(err)
	}
	for i, f := range futs {
		if _, err := await[struct{}](t, f); err != nil {
			t.Fatalf("put %d: %v", i, err)
		}
	}

	for i := 0; i < n; i++ {
		v, err := db.GetSync(batchKey(i))
		if err != nil {
			t.Fatalf("get %d: %v", i, err)
		}
		if string(v) != string(batchValue(i)) {
			t.Fatalf("key %d: got %q, want %q", i, v, batchValue(i))
		}
	}
}

func batchKey(i int) []byte   { return []byte(fmt.Sprintf("batch-%05d", i)) }
func batchValue(i int) []byte { return []byte(fmt.Sprintf("v-%05d", i)) }

func TestExplicitWriteTransactionRollbackOnErrorIsDurable(t *testing.T) {
	dir, err := os.MkdirTemp("", "lmdbhost-store-")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)

	db, err := Open(Config{Path: dir, MapSize: 1 << 20})
	if err != nil {
		t.Fatal(err)
	}

	if _, err := await[struct{}](t, db.StartWriteTransaction()); err != nil {
		t.Fatal(err)
	}
	goodFut := db.Put([]byte("a"), []byte("1"))
	oversized := make([]byte, 1<<16)
	badFut := db.Put(oversized, []byte("v"))

	// the oversized key aborts the transaction immediately when it is
	// processed (spec.md §4.3.3), before the explicit CommitWriteTransaction
	// command is even dispatched, so the commit itself reports that no
	// transaction is open rather than the oversized-key error directly.
	_, commitErr := await[struct{}](t, db.CommitWriteTransaction())
	if commitErr == nil {
		t.Fatal("expected the commit to fail")
	}
	var e *errs.Error
	if !errors.As(commitErr, &e) || e.Kind != errs.KindNoTransaction {
		t.Errorf("commit error = %v, want Kind %s", commitErr, errs.KindNoTransaction)
	}

	if _, err := await[struct{}](t, goodFut); err == nil {
		t.Error("expected the good put to report the transaction's abort, not succeed")
	} else if !errors.As(err, &e) || e.Kind != errs.KindKeyTooLarge {
		t.Errorf("good put error = %v, want Kind %s", err, errs.KindKeyTooLarge)
	}
	if _, err := await[struct{}](t, badFut); err == nil {
		t.Error("expected the oversized put to report an error")
	} else if !errors.As(err, &e) || e.Kind != errs.KindKeyTooLarge {
		t.Errorf("oversized put error = %v, want Kind %s", err, errs.KindKeyTooLarge)
	}

	if err := db.Close(); err != nil {
		t.Fatal(err)
	}

	db2, err := Open(Config{Path: dir, MapSize: 1 << 20})
	if err != nil {
		t.Fatal(err)
	}
	defer db2.Close()

	v, err := db2.GetSync([]byte("a"))
	if err != nil {
		t.Fatal(err)
	}
	if v != nil {
		t.Errorf("got %q after reopen, want nil (rollback should have discarded it)", v)
	}
}

func TestDurabilityAcrossCloseAndReopen(t *testing.T) {
	dir, err := os.MkdirTemp("", "lmdbhost-store-")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)

	db, err := Open(Config{Path: dir, MapSize: 1 << 20, AsyncWrites: false})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := await[struct{}](t, db.Put([]byte("durable"), []byte("value"))); err != nil {
		t.Fatal(err)
	}
	if err := db.Close(); err != nil {
		t.Fatal(err)
	}

	db2, err := Open(Config{Path: dir, MapSize: 1 << 20, AsyncWrites: false})
	if err != nil {
		t.Fatal(err)
	}
	defer db2.Close()

	v, err := db2.GetSync([]byte("durable"))
	if err != nil {
		t.Fatal(err)
	}
	if string(v) != "value" {
		t.Errorf("got %q after reopen, want %q", v, "value")
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	db := setup(t)
	if err := db.Close(); err != nil {
		t.Fatal(err)
	}
	if err := db.Close(); err != nil {
		t.Errorf("second close returned %v, want nil", err)
	}
}

func TestOperationsAfterCloseReportClosed(t *testing.T) {
	db := setup(t)
	if err := db.Close(); err != nil {
		t.Fatal(err)
	}
	_, err := await[struct{}](t, db.Put([]byte("k"), []byte("v")))
	var e *errs.Error
	if !errors.As(err, &e) || e.Kind != errs.KindClosed {
		t.Errorf("got %v, want Closed", err)
	}
}
