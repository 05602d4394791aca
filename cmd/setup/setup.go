// Package setup holds what every command does before touching tables:
// reading the configuration and serving metrics.
package setup

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/alpacahq/shmstore/executor/shm"
	"github.com/alpacahq/shmstore/internal/di"
	"github.com/alpacahq/shmstore/metrics"
	"github.com/alpacahq/shmstore/utils"
	"github.com/alpacahq/shmstore/utils/log"
)

const (
	DefaultConfigFilePath = "./shmstore.yml"
	ConfigDesc            = "set the path for the shmstore YAML configuration file"
)

// AddConfigFlag registers --config on cmd.
func AddConfigFlag(cmd *cobra.Command, path *string) {
	cmd.Flags().StringVarP(path, "config", "c", DefaultConfigFilePath, ConfigDesc)
}

// Load reads the configuration at path. A missing file at the default path
// means an all-default configuration.
func Load(path string) (*di.Container, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) || path != DefaultConfigFilePath {
			return nil, fmt.Errorf("failed to read configuration file error: %w", err)
		}
		data = nil
	} else {
		log.Info("using %v for configuration", path)
	}
	config, err := utils.ParseConfig(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse configuration file error: %w", err)
	}
	return di.NewContainer(config), nil
}

// ServeMetrics exposes prometheus metrics on the configured address and
// tracks the memory backing the segment directory, until ctx is done.
func ServeMetrics(ctx context.Context, c *di.Container) {
	cfg := c.Config()
	if cfg.MetricsListen == "" {
		return
	}
	dir := cfg.ShmDirectory
	if dir == "" {
		dir = shm.DefaultDir
	}
	go metrics.StartDiskUsageMonitor(ctx, metrics.SharedMemoryBytes, dir, cfg.DiskUsageInterval)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: cfg.MetricsListen, Handler: mux}
	go func() {
		log.Info("serving metrics on %s", cfg.MetricsListen)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("failed to serve metrics: %v", err)
		}
	}()
	go func() {
		<-ctx.Done()
		_ = srv.Close()
	}()
}
