package main

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/kvloop/lmdbhost/internal/logging"
	"github.com/kvloop/lmdbhost/internal/metrics"
	"github.com/kvloop/lmdbhost/store"
)

var v = viper.New()

func newRootCmd() *cobra.Command {
	var (
		dbPath     string
		configPath string
		pretty     bool
	)

	cmd := &cobra.Command{
		Use:   "lmdbhostbench",
		Short: "Drive a store.DB from the command line",
	}

	cmd.PersistentFlags().StringVar(&dbPath, "path", "", "environment directory")
	cmd.PersistentFlags().StringVar(&configPath, "config", "", "hujson config file")
	cmd.PersistentFlags().BoolVar(&pretty, "pretty", false, "pretty-print logs")

	v.BindPFlag("path", cmd.PersistentFlags().Lookup("path"))
	v.BindPFlag("pretty", cmd.PersistentFlags().Lookup("pretty"))

	cmd.PersistentPreRunE = func(cmd *cobra.Command, _ []string) error {
		if configPath != "" {
			return loadHujsonConfig(configPath, v)
		}
		return nil
	}

	cmd.AddCommand(newPutCmd(), newBatchCmd(), newReaderListCmd())
	return cmd
}

func openDB() (*store.DB, error) {
	log := logging.New(logging.Options{Pretty: v.GetBool("pretty")})
	return store.Open(store.Config{
		Path:    v.GetString("path"),
		Log:     log,
		Metrics: metrics.NewCollector(),
	})
}
