package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"yt-job-server/internal/model"
)

var (
	ErrShuttingDown = errors.New("dispatcher is shutting down")
	ErrJobFinished  = errors.New("job already finished")
)

// Dispatcher starts one runner goroutine per submitted job and tracks it until
// the runner returns, so shutdown can drain or cancel in-flight work.
type Dispatcher struct {
	registry *Registry
	runner   *Runner
	opts     Options
	newID    func(model.RequestType) string

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
	closing bool
	wg      sync.WaitGroup
}

func NewDispatcher(registry *Registry, runner *Runner, opts Options) *Dispatcher {
	return &Dispatcher{
		registry: registry,
		runner:   runner,
		opts:     opts.withDefaults(),
		newID:    newJobID,
		cancels:  make(map[string]context.CancelFunc),
	}
}

func newJobID(t model.RequestType) string {
	return string(t) + "_" + uuid.NewString()
}

// Submit registers a job in the starting state and returns its id without
// waiting for the runner.
func (d *Dispatcher) Submit(req model.Request) (string, error) {
	req, err := NormalizeRequest(req)
	if err != nil {
		return "", err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closing {
		return "", ErrShuttingDown
	}

	job := model.NewJob(d.newID(req.Type), req, d.opts.Now())
	if err := d.registry.Create(Snapshot(job)); err != nil {
		return "", fmt.Errorf("register job: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	d.cancels[job.ID] = cancel
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer d.release(job.ID)
		d.runner.Run(ctx, job)
	}()
	return job.ID, nil
}

func (d *Dispatcher) release(id string) {
	d.mu.Lock()
	cancel := d.cancels[id]
	delete(d.cancels, id)
	d.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Cancel asks a running job to stop at its next event boundary.
func (d *Dispatcher) Cancel(id string) error {
	d.mu.Lock()
	cancel, running := d.cancels[id]
	d.mu.Unlock()
	if running {
		log.Infow("job cancel requested", "job_id", id)
		cancel()
		return nil
	}
	if _, err := d.registry.Get(id); err != nil {
		return err
	}
	return fmt.Errorf("%s: %w", id, ErrJobFinished)
}

// Active returns the number of runners still executing.
func (d *Dispatcher) Active() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.cancels)
}

// Shutdown stops accepting jobs and waits for running ones. When ctx expires
// first, remaining jobs are canceled and Shutdown waits for their runners to
// record the cancellation before returning ctx.Err().
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	d.closing = true
	active := len(d.cancels)
	d.mu.Unlock()
	log.Infow("dispatcher draining", "active", active)

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
	}

	d.mu.Lock()
	for id, cancel := range d.cancels {
		log.Warnw("canceling job on shutdown", "job_id", id)
		cancel()
	}
	d.mu.Unlock()
	<-done
	return ctx.Err()
}
