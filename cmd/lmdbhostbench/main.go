// Command lmdbhostbench is a small driver for exercising a store.DB from
// the command line: single puts, batched-put benchmarks, and reader-lock-
// table inspection. Not part of the core contract (spec.md §1 places
// CLI/benchmark harnesses out of scope for the core), but carried as the
// pack's ambient stack expects of a repo like this one.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
