package jobs

import (
	"path/filepath"
	"strings"
	"time"

	"yt-job-server/internal/model"
)

// Publisher receives every snapshot produced by the aggregator.
type Publisher interface {
	Publish(status model.JobStatus) error
}

// Aggregator folds fetch engine events into a job record and publishes the
// resulting snapshot. It must only be called from the job's own runner.
type Aggregator struct {
	pub Publisher
	now func() time.Time
}

func NewAggregator(pub Publisher, now func() time.Time) *Aggregator {
	if now == nil {
		now = time.Now
	}
	return &Aggregator{pub: pub, now: now}
}

func (a *Aggregator) Ingest(job *model.Job, ev model.Event) model.JobStatus {
	if job.Status.IsTerminal() {
		return Snapshot(job)
	}
	at := ev.At
	if at.IsZero() {
		at = a.now()
	}

	var (
		sample    float64
		hasSample bool
	)
	switch ev.Kind {
	case model.EventDownloading:
		// A part key never seen before means the engine moved on to the next
		// unit, so a postprocessor that never reported back no longer applies.
		if startsNewUnit(job, ev) {
			job.Flags = model.PostprocessingFlags{}
		}
		part := partFor(job, ev)
		sample, hasSample = applyDownloading(part, ev, at)
		if ev.Filename != "" {
			job.CurrentVideo = filepath.Base(ev.Filename)
		}
	case model.EventFinished:
		applyFinished(partFor(job, ev), ev, at)
	case model.EventError:
		if key := partKey(ev); key != "" {
			partFor(job, ev).Status = model.PartError
		}
		job.Errors = append(job.Errors, errorMessage(ev))
	}

	totals := partTotals(job)
	in := stageInput{
		Kind:          ev.Kind,
		PartKey:       partKey(ev),
		Filename:      ev.Filename,
		Postprocessor: ev.Postprocessor,
		Current:       job.Stage,
		Flags:         job.Flags,
		KnownParts:    totals.known,
		FinishedParts: totals.finished,
		ExpectedParts: job.ExpectedParts,
	}
	decision := classifyStage(in)
	job.Flags = decision.Flags
	if decision.Label != "" {
		job.Stage = decision.Label
	}
	advanceStatus(job, ev.Kind)

	// Byte throughput means nothing once postprocessing started.
	if ev.Kind == model.EventDownloading && !job.Flags.Any() {
		updateSpeed(job, sample, hasSample, ev.SpeedHint)
		job.ETASeconds = estimateETA(totals.total, totals.sized, job.SpeedEstimate, ev.ETAHint)
	}
	job.ElapsedSeconds = elapsedSince(job.CreatedAt, at)
	job.CurrentProgress = displayProgress(job.Status, job.Flags, in.allPartsFinished(), totals.total, totals.sized)

	snap := Snapshot(job)
	a.publish(snap)
	return snap
}

func (a *Aggregator) publish(snap model.JobStatus) {
	if a.pub == nil {
		return
	}
	if err := a.pub.Publish(snap); err != nil {
		log.Warnw("publish snapshot failed", "job_id", snap.ID, "err", err)
	}
}

func partKey(ev model.Event) string {
	if key := strings.TrimSpace(ev.PartKey); key != "" {
		return key
	}
	if ev.Kind == model.EventPostprocessorStarted || ev.Kind == model.EventPostprocessorFinished {
		return ""
	}
	if ev.Filename != "" {
		return filepath.Base(ev.Filename)
	}
	return ""
}

func startsNewUnit(job *model.Job, ev model.Event) bool {
	key := partKey(ev)
	if key == "" || isMergeArtifact(key, ev.Filename) {
		return false
	}
	_, known := job.Parts[key]
	return !known
}

// partFor resolves the part for ev, creating it on first sight.
func partFor(job *model.Job, ev model.Event) *model.PartState {
	key := partKey(ev)
	if key == "" {
		key = mergePartKey
	}
	if part, ok := job.Parts[key]; ok {
		return part
	}
	part := &model.PartState{Key: key, Status: model.PartPending}
	job.Parts[key] = part
	job.PartOrder = append(job.PartOrder, key)
	return part
}

func applyDownloading(part *model.PartState, ev model.Event, at time.Time) (float64, bool) {
	if ev.Filename != "" {
		part.Filename = ev.Filename
	}
	if ev.TotalBytes > part.TotalBytes {
		part.TotalBytes = ev.TotalBytes
	}
	bytes := max(ev.DownloadedBytes, part.DownloadedBytes)
	sample, ok := instantSpeed(part, at, bytes)

	part.DownloadedBytes = bytes
	if part.TotalBytes > 0 && part.DownloadedBytes > part.TotalBytes {
		part.TotalBytes = part.DownloadedBytes
	}
	part.LastUpdate = at
	part.LastBytes = bytes
	if part.Status != model.PartFinished {
		part.Status = model.PartDownloading
	}
	return sample, ok
}

func applyFinished(part *model.PartState, ev model.Event, at time.Time) {
	if part.Status == model.PartFinished {
		return
	}
	if ev.Filename != "" {
		part.Filename = ev.Filename
	}
	if ev.TotalBytes > part.TotalBytes {
		part.TotalBytes = ev.TotalBytes
	}
	part.DownloadedBytes = max(part.DownloadedBytes, ev.DownloadedBytes)
	switch {
	case part.TotalBytes > 0:
		part.DownloadedBytes = part.TotalBytes
	case part.DownloadedBytes > 0:
		part.TotalBytes = part.DownloadedBytes
	}
	part.LastUpdate = at
	part.LastBytes = part.DownloadedBytes
	part.Status = model.PartFinished
}

func errorMessage(ev model.Event) string {
	msg := strings.TrimSpace(ev.Message)
	if msg == "" {
		msg = "download error"
	}
	if key := partKey(ev); key != "" && !strings.Contains(msg, key) {
		return key + ": " + msg
	}
	return msg
}

type byteTotals struct {
	total      int64
	downloaded int64
	// sized counts only bytes of parts whose total is known, so progress is
	// never overstated by a part that has no denominator yet.
	sized int64

	known    int
	finished int
}

func partTotals(job *model.Job) byteTotals {
	var t byteTotals
	for _, key := range job.PartOrder {
		part := job.Parts[key]
		if part == nil || part.Key == mergePartKey {
			continue
		}
		t.total += part.TotalBytes
		t.downloaded += part.DownloadedBytes
		if part.TotalBytes > 0 {
			t.sized += part.DownloadedBytes
		}
		t.known++
		if part.Status == model.PartFinished {
			t.finished++
		}
	}
	return t
}

func advanceStatus(job *model.Job, kind model.EventKind) {
	target := job.Status
	if s, ok := flagStatus(job.Flags); ok {
		target = s
	} else if kind == model.EventDownloading {
		target = model.StatusDownloading
	}
	if target == job.Status {
		return
	}
	if err := model.TransitionStatus(job, target); err != nil {
		log.Debugw("status transition skipped", "job_id", job.ID, "err", err)
	}
}

func elapsedSince(start, at time.Time) float64 {
	if start.IsZero() || at.Before(start) {
		return 0
	}
	return at.Sub(start).Seconds()
}

// Snapshot builds the published view of job. Files are only exposed once the
// job reached a terminal state.
func Snapshot(job *model.Job) model.JobStatus {
	totals := partTotals(job)
	files := []model.Artifact{}
	if job.Status.IsTerminal() {
		files = append(files, job.FinalFiles...)
	}
	return model.JobStatus{
		ID:              job.ID,
		Title:           job.Title,
		Status:          job.Status,
		Stage:           job.Stage,
		CurrentProgress: job.CurrentProgress,
		TotalBytes:      totals.total,
		DownloadedBytes: totals.downloaded,
		SpeedEstimate:   job.SpeedEstimate,
		ETASeconds:      job.ETASeconds,
		ElapsedSeconds:  job.ElapsedSeconds,
		CurrentVideo:    job.CurrentVideo,
		TotalUnits:      job.TotalUnits,
		CompletedUnits:  job.CompletedUnits,
		Errors:          append([]string{}, job.Errors...),
		Files:           files,
	}
}
