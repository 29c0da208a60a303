package main

import (
	"context"

	"github.com/spf13/cobra"
)

func newPutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "put <key> <value>",
		Short: "Put a single key/value pair and wait for the commit",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openDB()
			if err != nil {
				return err
			}
			defer db.Close()

			_, err = db.Put([]byte(args[0]), []byte(args[1])).Wait(context.Background())
			if err != nil {
				return err
			}
			cmd.Println("ok")
			return nil
		},
	}
}
