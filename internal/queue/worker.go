package queue

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/secrethound/secrethound/internal/repository"
	"github.com/secrethound/secrethound/internal/scanner"
	"github.com/secrethound/secrethound/models"
)

// execute runs every task of an item in order. Other items proceed in
// parallel; tasks inside one item never overlap.
func (m *Manager) execute(ctx context.Context, it item) {
	m.active.Add(1)
	defer m.active.Add(-1)

	for _, t := range it.tasks {
		if ctx.Err() != nil {
			slog.Warn("Skipping task, shutting down", "project", t.job.ProjectName)
			return
		}
		m.runTask(ctx, t)
	}
}

// runTask is the per-scan pipeline: fetch (I/O) → scan+classify (CPU) →
// deliver → cleanup (I/O). The scratch directory is removed on every exit
// path.
func (m *Manager) runTask(ctx context.Context, t task) {
	job := t.job
	start := time.Now()
	scratch := filepath.Join(m.cfg.TempDir, "scan-"+uuid.NewString())

	defer func() {
		if err := m.ioSem.Acquire(context.Background(), 1); err == nil {
			if err := os.RemoveAll(scratch); err != nil {
				slog.Warn("Scratch cleanup failed", "dir", scratch, "error", err)
			}
			m.ioSem.Release(1)
		}
	}()

	root, err := m.materialize(ctx, t, scratch)
	if err != nil {
		slog.Error("Fetch failed", "project", job.ProjectName, "error", err)
		if cbErr := m.courier.SendError(ctx, job.CallbackUrl, job.ProjectName, err.Error()); cbErr != nil {
			slog.Error("Error callback undeliverable", "project", job.ProjectName, "error", cbErr)
		}
		return
	}

	report := m.scanAndClassify(ctx, job, root)
	report.ProjectName = job.ProjectName
	report.ProjectRepoUrl = job.RepoUrl
	report.RepoCommit = job.Commit

	if err := m.courier.Deliver(ctx, job.CallbackUrl, report); err != nil {
		slog.Error("Report undeliverable", "project", job.ProjectName, "error", err)
	}
	slog.Info("Scan finished",
		"project", job.ProjectName,
		"commit", job.Commit,
		"files_scanned", report.FilesScanned,
		"findings", len(report.Results),
		"elapsed", time.Since(start).Round(time.Millisecond),
	)
}

// materialize produces the extracted source tree under the I/O gate: fetch
// from the hub, or write out the uploaded archive for local scans.
func (m *Manager) materialize(ctx context.Context, t task, scratch string) (string, error) {
	if err := m.ioSem.Acquire(ctx, 1); err != nil {
		return "", err
	}
	defer m.ioSem.Release(1)

	if err := os.MkdirAll(scratch, 0o755); err != nil {
		return "", fmt.Errorf("creating scratch dir: %w", err)
	}
	if t.archive != nil {
		return repository.ExtractBytes(t.archive, filepath.Join(scratch, "src"), m.catalog)
	}
	return m.hub.FetchArchive(ctx, t.job.RepoUrl, t.job.Commit, scratch)
}

// scanAndClassify runs under the CPU gate. A panic anywhere inside becomes
// a single Process Error finding and the job still completes, so partial
// context reaches the caller.
func (m *Manager) scanAndClassify(ctx context.Context, job models.ScanJob, root string) (report *models.ScanReport) {
	report = &models.ScanReport{Status: "completed", Message: "Scanned Successfully"}

	defer func() {
		if r := recover(); r != nil {
			slog.Error("Scan panicked", "project", job.ProjectName, "panic", r)
			report.Results = []models.Finding{processErrorFinding(fmt.Sprint(r))}
			report.FilesScanned = 0
		}
	}()

	if err := m.cpuSem.Acquire(ctx, 1); err != nil {
		panic(err)
	}
	defer m.cpuSem.Release(1)

	sc := scanner.New(m.catalog)
	sc.Progress = func(n int) {
		m.courier.SendPartial(ctx, job.CallbackUrl, n)
	}

	res, err := sc.ScanDir(ctx, root)
	if err != nil {
		slog.Error("Scan failed", "project", job.ProjectName, "error", err)
		report.Results = []models.Finding{processErrorFinding(err.Error())}
		return report
	}

	report.Results = m.clf.Classify(res.Findings)
	report.FilesScanned = res.FilesScanned

	if langs, err := scanner.DetectLanguages(root); err == nil {
		report.Languages = langs
	}
	if fw, err := scanner.DetectFrameworks(root, m.frameworks); err == nil {
		report.Frameworks = fw
	}
	return report
}

func processErrorFinding(text string) models.Finding {
	return models.Finding{
		Path:       "process_error",
		Context:    text,
		Error:      text,
		Severity:   models.SeverityHigh,
		Type:       models.TypeProcessError,
		Confidence: 1.0,
	}
}
