package metrics

import (
	"context"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/alpacahq/shmstore/utils/log"
)

// Setter is an interface for prometheus metrics to improve unit-testability.
type Setter interface {
	Set(m float64)
}

// StartDiskUsageMonitor sets the bytes actually used under dir at each
// interval until ctx is done.
func StartDiskUsageMonitor(ctx context.Context, s Setter, dir string, interval time.Duration) {
	s.Set(float64(diskUsage(dir)))

	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.Set(float64(diskUsage(dir)))
		}
	}
}

func diskUsage(path string) int64 {
	var totalSize int64
	err := filepath.Walk(path, func(fp string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		// Segments are sized with ftruncate and only consume what was
		// touched, so count allocated blocks rather than the file size.
		stat, ok := info.Sys().(*syscall.Stat_t)
		if !ok {
			log.Error("failed to get Stat_t for %s", fp)
			totalSize += info.Size()
			return nil
		}
		totalSize += stat.Blocks * 512
		return nil
	})
	if err != nil {
		log.Error("get the disk usage of %s for monitoring: %v", path, err)
	}
	return totalSize
}
