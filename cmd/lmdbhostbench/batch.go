package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

// report is the JSON shape --save-report writes via natefinch/atomic.
type report struct {
	Count    int           `json:"count"`
	Explicit bool          `json:"explicit"`
	Elapsed  time.Duration `json:"elapsedNanos"`
}

func newBatchCmd() *cobra.Command {
	var (
		count      int
		explicit   bool
		saveReport string
	)

	cmd := &cobra.Command{
		Use:   "batch",
		Short: "Write count sequential keys, either auto-batched or inside one explicit transaction",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openDB()
			if err != nil {
				return err
			}
			defer db.Close()

			ctx := context.Background()
			start := time.Now()

			if explicit {
				if _, err := db.StartWriteTransaction().Wait(ctx); err != nil {
					return err
				}
			}

			futs := make([]interface {
				Wait(context.Context) (struct{}, error)
			}, count)
			for i := 0; i < count; i++ {
				key := fmt.Sprintf("bench-%08d", i)
				futs[i] = db.Put([]byte(key), []byte(key))
			}

			if explicit {
				if _, err := db.CommitWriteTransaction().Wait(ctx); err != nil {
					return err
				}
			}
			for _, f := range futs {
				if _, err := f.Wait(ctx); err != nil {
					return err
				}
			}

			elapsed := time.Since(start)
			cmd.Printf("wrote %d keys in %s (explicit=%v)\n", count, elapsed, explicit)

			if saveReport != "" {
				return writeReport(saveReport, report{Count: count, Explicit: explicit, Elapsed: elapsed})
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&count, "count", 1000, "number of keys to write")
	cmd.Flags().BoolVar(&explicit, "explicit", false, "wrap the batch in an explicit write transaction")
	cmd.Flags().StringVar(&saveReport, "save-report", "", "path to atomically write a JSON run report")

	return cmd
}
