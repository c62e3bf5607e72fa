package jobs

import (
	"context"
	"fmt"
	"path"
	"path/filepath"
	"strings"
	"time"

	logging "github.com/ipfs/go-log/v2"

	"yt-job-server/internal/model"
	"yt-job-server/internal/runstore"
)

var log = logging.Logger("jobs")

const (
	msgResolutionFailed = "resolution failed: "
	msgUnexpected       = "unexpected error: "
	msgNoOutput         = "finished without producing output"
	msgCanceled         = "canceled"

	jobMetaFile = ".job.json"
)

// Engine is the fetch engine a runner drives. Fetch must invoke onEvent from
// the calling goroutine only.
type Engine interface {
	Probe(ctx context.Context, url string) (model.ProbeResult, error)
	Fetch(ctx context.Context, req model.FetchRequest, onEvent func(model.Event)) error
}

// Runner owns the lifecycle of one job at a time. A single Runner may serve
// many jobs concurrently since all per-job state lives in the model.Job.
type Runner struct {
	engine   Engine
	registry *Registry
	agg      *Aggregator
	opts     Options
}

// jobMeta is written next to the artifacts when a job finishes.
type jobMeta struct {
	JobID      string          `json:"job_id"`
	CreatedAt  string          `json:"created_at"`
	FinishedAt string          `json:"finished_at"`
	Request    model.Request   `json:"request"`
	Selector   string          `json:"selector,omitempty"`
	Final      model.JobStatus `json:"final"`
}

func NewRunner(engine Engine, registry *Registry, opts Options) *Runner {
	opts = opts.withDefaults()
	return &Runner{
		engine:   engine,
		registry: registry,
		agg:      NewAggregator(registry, opts.Now),
		opts:     opts,
	}
}

// Run drives job to a terminal state and returns the final snapshot. Errors
// are recorded on the job and never returned.
func (r *Runner) Run(ctx context.Context, job *model.Job) model.JobStatus {
	log.Infow("job started", "job_id", job.ID, "url", job.Request.URL, "type", job.Request.Type)

	probe, err := r.probe(ctx, job.Request.URL)
	if err != nil {
		job.Errors = append(job.Errors, msgResolutionFailed+errText(err))
		log.Warnw("job resolution failed", "job_id", job.ID, "err", err)
		return r.terminate(job, model.StatusError, nil)
	}
	job.Title = probe.Title
	job.TotalUnits = max(probe.TotalUnits, 1)
	r.publish(job)

	job.OutputDir = filepath.Join(r.opts.DownloadsDir, job.ID)
	req := BuildFetchRequest(job.Request, job.OutputDir)
	job.ExpectedParts = expectedParts(req.Selector)

	if err := runstore.Mkdir(job.OutputDir); err != nil {
		job.Errors = append(job.Errors, msgUnexpected+err.Error())
	} else {
		recorded := len(job.Errors)
		fetchErr := r.fetch(ctx, job, req)
		switch {
		case ctx.Err() != nil:
			job.Errors = append(job.Errors, msgCanceled)
		case fetchErr != nil && len(job.Errors) == recorded:
			job.Errors = append(job.Errors, msgUnexpected+errText(fetchErr))
		}
		if fetchErr != nil {
			log.Warnw("fetch ended with error", "job_id", job.ID, "err", fetchErr)
		}
	}

	files, err := ScanArtifacts(job.OutputDir, r.artifactPrefix(job.ID))
	if err != nil {
		job.Errors = append(job.Errors, msgUnexpected+err.Error())
		files = nil
	}
	final := r.terminate(job, terminalStatus(len(files), len(job.Errors)), files)
	r.writeMeta(job, req.Selector, final)
	return final
}

func (r *Runner) probe(ctx context.Context, url string) (res model.ProbeResult, err error) {
	err = recoverPanic(func() error {
		var probeErr error
		res, probeErr = r.engine.Probe(ctx, url)
		return probeErr
	})
	return res, err
}

func (r *Runner) fetch(ctx context.Context, job *model.Job, req model.FetchRequest) error {
	return recoverPanic(func() error {
		return r.engine.Fetch(ctx, req, func(ev model.Event) {
			if ctx.Err() != nil {
				return
			}
			snap := r.agg.Ingest(job, ev)
			log.Debugw("event ingested", "job_id", job.ID, "kind", ev.Kind, "part", ev.PartKey, "stage", snap.Stage, "progress", snap.CurrentProgress)
		})
	})
}

// recoverPanic converts a panic in fn into an error.
func recoverPanic(fn func() error) (err error) {
	defer func() {
		if p := recover(); p != nil {
			log.Errorw("fetch engine panicked", "panic", p)
			err = fmt.Errorf("%v", p)
		}
	}()
	return fn()
}

func terminalStatus(files, errs int) model.Status {
	switch {
	case files > 0 && errs == 0:
		return model.StatusCompleted
	case files > 0:
		return model.StatusPartial
	default:
		return model.StatusError
	}
}

func (r *Runner) terminate(job *model.Job, status model.Status, files []model.Artifact) model.JobStatus {
	if status == model.StatusError && len(job.Errors) == 0 {
		job.Errors = append(job.Errors, msgNoOutput)
	}
	if files == nil {
		files = []model.Artifact{}
	}
	job.FinalFiles = files
	job.CompletedUnits = len(files)
	job.Flags = model.PostprocessingFlags{}
	job.ETASeconds = 0
	job.ElapsedSeconds = elapsedSince(job.CreatedAt, r.opts.Now())

	if err := model.TransitionStatus(job, status); err != nil {
		log.Errorw("terminal transition rejected", "job_id", job.ID, "err", err)
	}
	switch job.Status {
	case model.StatusCompleted:
		job.Stage = stageDone
		job.CurrentProgress = 100
	case model.StatusPartial:
		job.Stage = stageDoneWithErrors
	default:
		job.Stage = stageFailed
	}

	snap := r.publish(job)
	log.Infow("job finished", "job_id", job.ID, "status", job.Status, "files", len(files), "errors", len(job.Errors))
	return snap
}

func (r *Runner) publish(job *model.Job) model.JobStatus {
	snap := Snapshot(job)
	if err := r.registry.Publish(snap); err != nil {
		log.Warnw("publish snapshot failed", "job_id", job.ID, "err", err)
	}
	return snap
}

func (r *Runner) artifactPrefix(jobID string) string {
	return path.Join(r.opts.FilesURLPrefix, jobID)
}

func (r *Runner) writeMeta(job *model.Job, selector string, final model.JobStatus) {
	if job.OutputDir == "" {
		return
	}
	meta := jobMeta{
		JobID:      job.ID,
		CreatedAt:  job.CreatedAt.UTC().Format(time.RFC3339),
		FinishedAt: r.opts.Now().UTC().Format(time.RFC3339),
		Request:    job.Request,
		Selector:   selector,
		Final:      final,
	}
	if err := runstore.WriteJSON(filepath.Join(job.OutputDir, jobMetaFile), meta); err != nil {
		log.Warnw("write job metadata failed", "job_id", job.ID, "err", err)
	}
}

func errText(err error) string {
	msg := strings.TrimSpace(err.Error())
	if msg == "" {
		return "unknown error"
	}
	return msg
}
