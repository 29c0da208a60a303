// Package worker implements the Write Worker and Command Channel of
// spec.md §4.3/§4.4: a dedicated OS thread that owns every write
// transaction's lifetime, consuming commands off a FIFO queue.
package worker

// Kind enumerates the command set of spec.md §4.3.
type Kind int

const (
	KindPut Kind = iota
	KindPutMany
	KindDelete
	KindGetAsync
	KindStartWrite
	KindCommitWrite
	KindAbortWrite
	KindPutNoConfirm
	KindShutdown
)

func (k Kind) String() string {
	switch k {
	case KindPut:
		return "Put"
	case KindPutMany:
		return "PutMany"
	case KindDelete:
		return "Delete"
	case KindGetAsync:
		return "GetAsync"
	case KindStartWrite:
		return "StartWrite"
	case KindCommitWrite:
		return "CommitWrite"
	case KindAbortWrite:
		return "AbortWrite"
	case KindPutNoConfirm:
		return "PutNoConfirm"
	case KindShutdown:
		return "Shutdown"
	default:
		return "Unknown"
	}
}

// isWrite reports whether a command kind mutates the database and thus
// participates in the current (implicit or explicit) write transaction.
func (k Kind) isWrite() bool {
	switch k {
	case KindPut, KindPutMany, KindDelete, KindPutNoConfirm:
		return true
	default:
		return false
	}
}

// Entry is one key/value pair of a vectored PutMany command.
type Entry struct {
	Key   []byte
	Value []byte
}

// Result is what a command's completion handle carries: a value (for
// GetAsync), and/or an error.
type Result struct {
	Value []byte
	Found bool
	Err   error
}

// Command is one entry reified onto the Command Channel, each carrying a
// per-command completion handle (spec.md §4.3), except PutNoConfirm which
// carries none (spec.md §4.3.2).
type Command struct {
	Kind    Kind
	Key     []byte
	Value   []byte
	Entries []Entry

	done chan Result
}

func newCommand(kind Kind) *Command {
	return &Command{Kind: kind, done: make(chan Result, 1)}
}

// Done returns the completion channel, or nil for PutNoConfirm.
func (c *Command) Done() <-chan Result {
	if c.done == nil {
		return nil
	}
	return c.done
}

func (c *Command) complete(res Result) {
	if c.done == nil {
		return
	}
	c.done <- res
	close(c.done)
}

func NewPut(key, value []byte) *Command {
	c := newCommand(KindPut)
	c.Key, c.Value = key, value
	return c
}

func NewPutMany(entries []Entry) *Command {
	c := newCommand(KindPutMany)
	c.Entries = entries
	return c
}

func NewDelete(key []byte) *Command {
	c := newCommand(KindDelete)
	c.Key = key
	return c
}

func NewGetAsync(key []byte) *Command {
	c := newCommand(KindGetAsync)
	c.Key = key
	return c
}

func NewStartWrite() *Command {
	return newCommand(KindStartWrite)
}

func NewCommitWrite() *Command {
	return newCommand(KindCommitWrite)
}

func NewAbortWrite() *Command {
	return newCommand(KindAbortWrite)
}

// NewPutNoConfirm builds a fire-and-forget put; it has no completion
// channel. Legal only inside an explicit write transaction (spec.md
// §4.3.2); store.DB.PutNoConfirm enforces that. Neither the constructor
// nor the Worker checks it: the Worker runs a PutNoConfirm that arrives
// outside an explicit window in an implicit transaction.
func NewPutNoConfirm(key, value []byte) *Command {
	return &Command{Kind: KindPutNoConfirm, Key: key, Value: value}
}

func NewShutdown() *Command {
	return newCommand(KindShutdown)
}
