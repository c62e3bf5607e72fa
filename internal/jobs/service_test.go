package jobs

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"yt-job-server/internal/model"
)

func waitTerminal(t *testing.T, svc *Service, id string) model.JobStatus {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		status, err := svc.Status(id)
		if err != nil {
			t.Fatalf("status %s: %v", id, err)
		}
		if status.Status.IsTerminal() {
			return status
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("job %s did not reach a terminal state", id)
	return model.JobStatus{}
}

func TestService_SubmitRunsJobInBackground(t *testing.T) {
	engine := &fakeEngine{
		probe:  model.ProbeResult{Title: "Clip", TotalUnits: 1},
		events: []model.Event{downloading("18", 100, 100, 1), finished("18", 2)},
		files:  []string{"Clip.mp4"},
	}
	svc := NewService(engine, testOptions(t))
	defer func() { _ = svc.Shutdown(context.Background()) }()

	id, err := svc.Submit(model.Request{URL: " https://example.com/watch?v=abc "})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if !strings.HasPrefix(id, "single_") {
		t.Fatalf("unexpected id: %q", id)
	}

	final := waitTerminal(t, svc, id)
	if final.Status != model.StatusCompleted {
		t.Fatalf("unexpected status: %q errors=%v", final.Status, final.Errors)
	}

	files, err := svc.Artifacts(id)
	if err != nil || len(files) != 1 {
		t.Fatalf("unexpected artifacts: %+v err=%v", files, err)
	}
	if _, err := svc.ArtifactPath(id, "Clip.mp4"); err != nil {
		t.Fatalf("artifact path: %v", err)
	}
	for _, name := range []string{"../Clip.mp4", "Clip.f137.mp4", ".job.json", "missing.mp4"} {
		if _, err := svc.ArtifactPath(id, name); !errors.Is(err, ErrArtifactNotFound) {
			t.Fatalf("ArtifactPath(%q): expected ErrArtifactNotFound, got %v", name, err)
		}
	}
	if len(svc.List()) != 1 {
		t.Fatalf("unexpected list length: %d", len(svc.List()))
	}
}

func TestService_UnknownJob(t *testing.T) {
	svc := NewService(&fakeEngine{}, testOptions(t))
	if _, err := svc.Status("nope"); !errors.Is(err, ErrJobNotFound) {
		t.Fatalf("expected ErrJobNotFound, got %v", err)
	}
	if _, err := svc.Artifacts("nope"); !errors.Is(err, ErrJobNotFound) {
		t.Fatalf("expected ErrJobNotFound, got %v", err)
	}
	if err := svc.Cancel("nope"); !errors.Is(err, ErrJobNotFound) {
		t.Fatalf("expected ErrJobNotFound, got %v", err)
	}
}

func TestService_SubmitRejectsInvalidRequest(t *testing.T) {
	svc := NewService(&fakeEngine{}, testOptions(t))
	if _, err := svc.Submit(model.Request{URL: "not a url"}); err == nil {
		t.Fatalf("expected invalid url to be rejected")
	}
	if _, err := svc.Submit(model.Request{URL: "https://example.com/v", Type: "album"}); err == nil {
		t.Fatalf("expected invalid type to be rejected")
	}
	if len(svc.List()) != 0 {
		t.Fatalf("rejected requests must not create jobs")
	}
}

func TestService_CancelRunningJob(t *testing.T) {
	engine := &fakeEngine{
		probe:      model.ProbeResult{Title: "Clip"},
		waitCancel: true,
		started:    make(chan struct{}, 1),
	}
	svc := NewService(engine, testOptions(t))
	defer func() { _ = svc.Shutdown(context.Background()) }()

	id, err := svc.Submit(model.Request{URL: "https://example.com/v"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	<-engine.started
	if err := svc.Cancel(id); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	final := waitTerminal(t, svc, id)
	if final.Status != model.StatusError || len(final.Errors) != 1 || final.Errors[0] != msgCanceled {
		t.Fatalf("unexpected canceled state: %q %v", final.Status, final.Errors)
	}

	if err := svc.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if err := svc.Cancel(id); !errors.Is(err, ErrJobFinished) {
		t.Fatalf("expected ErrJobFinished, got %v", err)
	}
}

func TestService_ShutdownCancelsAfterGrace(t *testing.T) {
	engine := &fakeEngine{
		probe:      model.ProbeResult{Title: "Clip"},
		waitCancel: true,
		started:    make(chan struct{}, 2),
	}
	svc := NewService(engine, testOptions(t))

	var ids []string
	for i := 0; i < 2; i++ {
		id, err := svc.Submit(model.Request{URL: "https://example.com/v", Type: model.RequestPlaylist})
		if err != nil {
			t.Fatalf("submit: %v", err)
		}
		ids = append(ids, id)
	}
	<-engine.started
	<-engine.started
	if svc.Active() != 2 {
		t.Fatalf("unexpected active count: %d", svc.Active())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := svc.Shutdown(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if svc.Active() != 0 {
		t.Fatalf("runners still active after shutdown: %d", svc.Active())
	}
	for _, id := range ids {
		status, _ := svc.Status(id)
		if !status.Status.IsTerminal() {
			t.Fatalf("job %s not terminal after shutdown: %q", id, status.Status)
		}
	}
	if _, err := svc.Submit(model.Request{URL: "https://example.com/v"}); !errors.Is(err, ErrShuttingDown) {
		t.Fatalf("expected ErrShuttingDown, got %v", err)
	}
}
