// Package subscribe keeps a local table in step with a publishing host.
package subscribe

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/alpacahq/shmstore/catalog"
	"github.com/alpacahq/shmstore/cmd/setup"
	"github.com/alpacahq/shmstore/executor"
	"github.com/alpacahq/shmstore/utils/log"
)

const (
	usage   = "subscribe <namespace/period/source/name>"
	short   = "Follows a table published by another host"
	long    = "This command opens a table and applies the rows another host publishes for it until interrupted, persisting periodically"
	example = "shmstore subscribe equity/1D/iex/AAPL --host primary --port 5995"

	hostDesc    = "publishing host"
	portDesc    = "publishing port"
	persistDesc = "interval between persists, 0 to persist only on exit"

	defaultPort    = 5995
	defaultPersist = time.Minute
)

var (
	// Cmd is the subscribe command.
	Cmd = &cobra.Command{
		Use:        usage,
		Short:      short,
		Long:       long,
		SuggestFor: []string{"follow", "replicate"},
		Example:    example,
		Args:       cobra.ExactArgs(1),
		RunE:       executeSubscribe,
	}

	configFilePath  string
	host            string
	port            int
	persistInterval time.Duration
)

func init() {
	setup.AddConfigFlag(Cmd, &configFilePath)
	Cmd.Flags().StringVar(&host, "host", "127.0.0.1", hostDesc)
	Cmd.Flags().IntVar(&port, "port", defaultPort, portDesc)
	Cmd.Flags().DurationVar(&persistInterval, "persist", defaultPersist, persistDesc)
}

func executeSubscribe(cmd *cobra.Command, args []string) error {
	key, err := catalog.ParseTableKey(args[0])
	if err != nil {
		return err
	}
	cmd.SilenceUsage = true

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c, err := setup.Load(configFilePath)
	if err != nil {
		return err
	}
	defer c.Close()
	setup.ServeMetrics(ctx, c)
	reg, err := c.GetRegistry()
	if err != nil {
		return err
	}
	opts, err := c.GetOptions(ctx)
	if err != nil {
		return err
	}
	t, err := executor.Open(ctx, reg, key, opts)
	if err != nil {
		return err
	}
	defer t.Free()
	if err = t.Subscribe(ctx, host, port); err != nil {
		return err
	}
	log.Info("following %s from %s:%d", key, host, port)

	var tick <-chan time.Time
	if persistInterval > 0 {
		ticker := time.NewTicker(persistInterval)
		defer ticker.Stop()
		tick = ticker.C
	}
	for {
		select {
		case <-tick:
			if _, err := t.Persist(ctx); err != nil {
				log.Error("persist %s: %v", key, err)
			}
		case <-ctx.Done():
			log.Info("shutting down, persisting %s", key)
			// ctx is already canceled
			pctx, cancel := context.WithTimeout(context.Background(), opts.LockTimeout+time.Minute)
			defer cancel()
			_, err := t.Persist(pctx)
			return err
		}
	}
}
