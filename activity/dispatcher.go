package activity

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"tasksetu-api/domain"
)

// DispatcherConfig sizes the worker pool behind a Dispatcher.
type DispatcherConfig struct {
	Workers        int
	Buffer         int
	HandoffTimeout time.Duration
	AppendTimeout  time.Duration
}

// DefaultDispatcherConfig mirrors the ACTIVITY_* environment defaults.
func DefaultDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{
		Workers:        8,
		Buffer:         1024,
		HandoffTimeout: 15 * time.Millisecond,
		AppendTimeout:  30 * time.Second,
	}
}

// Dispatcher hands activity records to a pool of workers that append them to
// the wrapped sink, so a slow queue does not hold up the request that
// produced the record. When the pool is saturated past the handoff timeout
// the record is appended inline and any failure is returned to the caller.
type Dispatcher struct {
	sink domain.ActivitySink
	cfg  DispatcherConfig
	log  *log.Logger

	mu     sync.RWMutex
	jobs   chan domain.ActivityRecord
	closed bool
	wg     sync.WaitGroup
}

func NewDispatcher(sink domain.ActivitySink, cfg DispatcherConfig, logger *log.Logger) *Dispatcher {
	if sink == nil {
		panic("activity.NewDispatcher: sink is nil")
	}
	if logger == nil {
		logger = log.StandardLogger()
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.Buffer < 0 {
		cfg.Buffer = 0
	}
	d := &Dispatcher{
		sink: sink,
		cfg:  cfg,
		log:  logger,
		jobs: make(chan domain.ActivityRecord, cfg.Buffer),
	}
	for i := 0; i < cfg.Workers; i++ {
		d.wg.Add(1)
		go d.worker(i)
	}
	d.log.Infof("activity dispatcher started, workers: %d, buffer: %d, timeout: %v, handoff: %v", cfg.Workers, cfg.Buffer, cfg.AppendTimeout, cfg.HandoffTimeout)
	return d
}

// Append queues rec for a worker, or appends it inline when no worker takes
// it in time.
func (d *Dispatcher) Append(ctx context.Context, rec domain.ActivityRecord) error {
	if d.handoff(rec) {
		return nil
	}
	d.log.WithFields(log.Fields{"task": rec.TaskID, "activity": rec.ID}).Debug("dispatcher saturated, appending inline")
	return d.sink.Append(ctx, rec)
}

func (d *Dispatcher) handoff(rec domain.ActivityRecord) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return false
	}
	select {
	case d.jobs <- rec:
		return true
	default:
	}
	if d.cfg.HandoffTimeout <= 0 {
		return false
	}
	timer := time.NewTimer(d.cfg.HandoffTimeout)
	defer timer.Stop()
	select {
	case d.jobs <- rec:
		return true
	case <-timer.C:
		return false
	}
}

func (d *Dispatcher) worker(id int) {
	defer d.wg.Done()
	for rec := range d.jobs {
		ctx := context.Background()
		cancel := func() {}
		if d.cfg.AppendTimeout > 0 {
			ctx, cancel = context.WithTimeout(ctx, d.cfg.AppendTimeout)
		}
		err := d.sink.Append(ctx, rec)
		cancel()
		if err != nil {
			d.log.WithError(err).WithFields(log.Fields{
				"task":     rec.TaskID,
				"activity": rec.ID,
				"type":     rec.Kind(),
				"worker":   id,
			}).Error("activity append failed")
		}
	}
}

// Close stops accepting records and waits for queued ones to drain.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.jobs)
	}
	d.mu.Unlock()
	d.wg.Wait()
}
