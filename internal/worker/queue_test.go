package worker

import (
	"sync"
	"testing"
	"time"
)

func TestQueueFIFOOrder(t *testing.T) {
	q := NewQueue(0)
	for i := 0; i < 5; i++ {
		q.Push(NewGetAsync([]byte{byte(i)}))
	}
	for i := 0; i < 5; i++ {
		cmd, ok := q.Pop()
		if !ok {
			t.Fatalf("Pop() returned ok=false at i=%d", i)
		}
		if cmd.Key[0] != byte(i) {
			t.Errorf("got key %d, want %d", cmd.Key[0], i)
		}
	}
}

func TestQueueTryPopOnEmpty(t *testing.T) {
	q := NewQueue(0)
	if _, ok := q.TryPop(); ok {
		t.Error("TryPop on empty queue returned ok=true")
	}
}

func TestQueueBoundedPushBlocksUntilSpace(t *testing.T) {
	q := NewQueue(1)
	q.Push(NewGetAsync([]byte("a")))

	pushed := make(chan struct{})
	go func() {
		q.Push(NewGetAsync([]byte("b")))
		close(pushed)
	}()

	select {
	case <-pushed:
		t.Fatal("second Push returned before the queue had room")
	case <-time.After(20 * time.Millisecond):
	}

	q.Pop()
	select {
	case <-pushed:
	case <-time.After(time.Second):
		t.Fatal("second Push never unblocked after a Pop freed a slot")
	}
}

func TestQueueCloseUnblocksPop(t *testing.T) {
	q := NewQueue(0)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if _, ok := q.Pop(); ok {
			t.Error("Pop on a closed, empty queue returned ok=true")
		}
	}()
	q.Close()
	wg.Wait()
}

func TestQueueCloseDrainsQueuedItemsFirst(t *testing.T) {
	q := NewQueue(0)
	q.Push(NewGetAsync([]byte("queued")))
	q.Close()

	cmd, ok := q.Pop()
	if !ok {
		t.Fatal("Pop should still return the item queued before Close")
	}
	if string(cmd.Key) != "queued" {
		t.Errorf("got %q", cmd.Key)
	}

	if _, ok := q.Pop(); ok {
		t.Error("Pop after draining a closed queue returned ok=true")
	}
}
