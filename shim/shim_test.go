package shim

import (
	"context"
	"os"
	"testing"
	"time"
)

func TestPutThenGetRoundTrip(t *testing.T) {
	dir, err := os.MkdirTemp("", "lmdbhost-shim-")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)

	w, err := Open(dir, Options{Name: "cache", Encoding: "json", Compression: "none"})
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if _, err := w.PutString("k", "v").Wait(ctx); err != nil {
		t.Fatal(err)
	}

	got, err := w.Get([]byte("k"))
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "v" {
		t.Errorf("got %q, want %q", got, "v")
	}
}

func TestResetReadTxnIsANoOpWithNoActiveSlot(t *testing.T) {
	dir, err := os.MkdirTemp("", "lmdbhost-shim-")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)

	w, err := Open(dir, Options{})
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()

	if err := w.ResetReadTxn(); err != nil {
		t.Fatal(err)
	}
}

func TestNameIsStoredButUnused(t *testing.T) {
	dir, err := os.MkdirTemp("", "lmdbhost-shim-")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)

	w, err := Open(dir, Options{Name: "my-cache"})
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()

	if w.Name() != "my-cache" {
		t.Errorf("got %q, want %q", w.Name(), "my-cache")
	}
}
