package queue

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/secrethound/secrethound/internal/classifier"
	"github.com/secrethound/secrethound/internal/config"
	"github.com/secrethound/secrethound/internal/courier"
	"github.com/secrethound/secrethound/internal/repository"
	"github.com/secrethound/secrethound/internal/rules"
	"github.com/secrethound/secrethound/models"
)

// ErrQueueFull is returned by Enqueue when back-pressure applies; the HTTP
// surface maps it to 429.
var ErrQueueFull = errors.New("queue is full")

// shutdownGrace bounds how long Stop waits for in-flight executions.
const shutdownGrace = 15 * time.Second

// task is one scan inside a queue item. Archive is non-nil for uploaded
// (local) scans, which skip the fetch step.
type task struct {
	job     models.ScanJob
	archive []byte
}

// item occupies one queue slot. A multi-scan carries several tasks that run
// strictly in order within the item.
type item struct {
	tasks []task
}

// Manager owns the job queue and its dispatchers. Ingress probes queue
// depth for back-pressure; max_workers dispatchers pop items and spawn
// executions, so dispatch never blocks behind a slow scan. Two semaphores
// gate the execution stages: ioSem for blocking network/disk work, cpuSem
// for scan+classify.
type Manager struct {
	cfg        *config.Config
	catalog    *rules.Catalog
	frameworks []rules.FrameworkRule
	clf        *classifier.Classifier
	hub        repository.Hub
	courier    *courier.Courier

	items  chan item
	ioSem  *semaphore.Weighted
	cpuSem *semaphore.Weighted

	active atomic.Int64
	wg     sync.WaitGroup
	cancel context.CancelFunc
}

func NewManager(cfg *config.Config, catalog *rules.Catalog, frameworks []rules.FrameworkRule,
	clf *classifier.Classifier, hub repository.Hub, cour *courier.Courier) *Manager {
	return &Manager{
		cfg:        cfg,
		catalog:    catalog,
		frameworks: frameworks,
		clf:        clf,
		hub:        hub,
		courier:    cour,
		items:      make(chan item, 2*cfg.MaxWorkers),
		ioSem:      semaphore.NewWeighted(int64(cfg.IOSlots)),
		cpuSem:     semaphore.NewWeighted(int64(cfg.CPUSlots)),
	}
}

// Start launches the dispatcher goroutines.
func (m *Manager) Start(ctx context.Context) {
	ctx, m.cancel = context.WithCancel(ctx)
	for i := 0; i < m.cfg.MaxWorkers; i++ {
		m.wg.Add(1)
		go m.dispatch(ctx, i)
	}
	slog.Info("Job queue started",
		"max_workers", m.cfg.MaxWorkers,
		"queue_capacity", cap(m.items),
		"io_slots", m.cfg.IOSlots,
		"cpu_slots", m.cfg.CPUSlots,
	)
}

func (m *Manager) dispatch(ctx context.Context, id int) {
	defer m.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case it := <-m.items:
			// Spawn and return to the queue: the dispatcher count caps
			// fan-out, the semaphores cap actual resource use.
			m.wg.Add(1)
			go func() {
				defer m.wg.Done()
				m.execute(ctx, it)
			}()
			slog.Debug("Item dispatched", "dispatcher", id, "jobs", len(it.tasks))
		}
	}
}

// enqueue applies the depth probe before committing a slot.
func (m *Manager) enqueue(it item) error {
	if len(m.items) >= cap(m.items) {
		return ErrQueueFull
	}
	select {
	case m.items <- it:
		return nil
	default:
		return ErrQueueFull
	}
}

// EnqueueSingle queues one resolved scan job.
func (m *Manager) EnqueueSingle(job models.ScanJob) error {
	return m.enqueue(item{tasks: []task{{job: job}}})
}

// EnqueueMulti queues an ordered batch occupying one slot; the jobs run
// sequentially relative to each other.
func (m *Manager) EnqueueMulti(jobs []models.ScanJob) error {
	tasks := make([]task, len(jobs))
	for i, j := range jobs {
		tasks[i] = task{job: j}
	}
	return m.enqueue(item{tasks: tasks})
}

// EnqueueLocal queues an uploaded archive; the item owns the bytes.
func (m *Manager) EnqueueLocal(job models.ScanJob, archive []byte) error {
	return m.enqueue(item{tasks: []task{{job: job, archive: archive}}})
}

// QueueSize is the current queue depth.
func (m *Manager) QueueSize() int { return len(m.items) }

// ActiveWorkers is the number of executions currently in flight.
func (m *Manager) ActiveWorkers() int { return int(m.active.Load()) }

// Stop cancels dispatchers and waits for in-flight work, bounded by the
// shutdown grace window.
func (m *Manager) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		slog.Info("Job queue drained")
	case <-time.After(shutdownGrace):
		slog.Warn("Job queue shutdown timed out", "grace", shutdownGrace)
	}
}
