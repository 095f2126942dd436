package gateway

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/secrethound/secrethound/internal/config"
)

// Janitor periodically removes orphaned scratch directories: scan jobs
// normally clean up after themselves, but a crash mid-job leaves the
// directory behind.
type Janitor struct {
	cron   *cron.Cron
	root   string
	maxAge time.Duration
	spec   string
}

func NewJanitor(cfg *config.Config) *Janitor {
	return &Janitor{
		cron:   cron.New(),
		root:   cfg.TempDir,
		maxAge: cfg.JanitorMaxAge,
		spec:   cfg.JanitorSchedule,
	}
}

func (j *Janitor) Start() error {
	if _, err := j.cron.AddFunc(j.spec, j.Sweep); err != nil {
		return err
	}
	j.cron.Start()
	slog.Info("Scratch janitor scheduled", "schedule", j.spec, "max_age", j.maxAge)
	return nil
}

func (j *Janitor) Stop() {
	<-j.cron.Stop().Done()
}

// Sweep removes scan-* directories older than the cutoff. Anything else
// under the temp root is left alone.
func (j *Janitor) Sweep() {
	cutoff := time.Now().Add(-j.maxAge)
	entries, err := os.ReadDir(j.root)
	if err != nil {
		slog.Warn("Janitor sweep failed", "root", j.root, "error", err)
		return
	}

	removed := 0
	for _, e := range entries {
		if !e.IsDir() || !strings.HasPrefix(e.Name(), "scan-") {
			continue
		}
		info, err := e.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		path := filepath.Join(j.root, e.Name())
		if err := os.RemoveAll(path); err != nil {
			slog.Warn("Janitor could not remove scratch dir", "dir", path, "error", err)
			continue
		}
		removed++
	}
	if removed > 0 {
		slog.Info("Janitor removed orphaned scratch dirs", "count", removed)
	}
}
