package main

import (
	"github.com/spf13/cobra"
)

func newReaderListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "readerlist",
		Short: "Dump the engine's reader lock table",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openDB()
			if err != nil {
				return err
			}
			defer db.Close()

			return db.ReaderList(func(line string) error {
				cmd.Println(line)
				return nil
			})
		},
	}
}
