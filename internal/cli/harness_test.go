package cli

import (
	"context"
	"errors"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"yt-job-server/internal/api"
	"yt-job-server/internal/config"
	"yt-job-server/internal/jobs"
	"yt-job-server/internal/model"
)

// scriptedEngine writes one output file and reports a single stream.
type scriptedEngine struct {
	title    string
	fetchErr error
}

func (e scriptedEngine) Probe(context.Context, string) (model.ProbeResult, error) {
	return model.ProbeResult{Title: e.title, TotalUnits: 1}, nil
}

func (e scriptedEngine) Fetch(_ context.Context, req model.FetchRequest, onEvent func(model.Event)) error {
	name := filepath.Join(req.OutputDir, e.title+".mp4")
	now := time.Now()
	onEvent(model.Event{Kind: model.EventDownloading, PartKey: "18", Filename: name, DownloadedBytes: 50, TotalBytes: 100, At: now})
	if err := os.WriteFile(name, []byte(strings.Repeat("x", 100)), 0o644); err != nil {
		return err
	}
	onEvent(model.Event{Kind: model.EventFinished, PartKey: "18", Filename: name, DownloadedBytes: 100, TotalBytes: 100, At: now})
	if e.fetchErr != nil {
		onEvent(model.Event{Kind: model.EventError, Message: e.fetchErr.Error(), At: now})
		return e.fetchErr
	}
	return nil
}

func isolateWorkspace(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	prevWD, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	if err := os.Chdir(root); err != nil {
		t.Fatalf("chdir: %v", err)
	}
	t.Cleanup(func() { _ = os.Chdir(prevWD) })
	t.Setenv("PORT", "")
	t.Setenv("DEBUG", "")
	return root
}

func useEngine(t *testing.T, e jobs.Engine) {
	t.Helper()
	prev := fetchEngine
	fetchEngine = func(config.Settings) (jobs.Engine, error) { return e, nil }
	t.Cleanup(func() { fetchEngine = prev })
}

func TestFetchCommand_CompletesJob(t *testing.T) {
	root := isolateWorkspace(t)
	useEngine(t, scriptedEngine{title: "Clip"})

	downloads := filepath.Join(root, "media")
	err := Run([]string{"fetch", "--json", "--interval", "10ms", "--downloads-dir", downloads, "https://www.youtube.com/watch?v=x"})
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}

	matches, err := filepath.Glob(filepath.Join(downloads, "single_*", "Clip.mp4"))
	if err != nil || len(matches) != 1 {
		t.Fatalf("expected one output file, got %v (%v)", matches, err)
	}
	if _, err := os.Stat(filepath.Join(filepath.Dir(matches[0]), ".job.json")); err != nil {
		t.Fatalf("expected job metadata next to output: %v", err)
	}
}

func TestFetchCommand_PartialIsError(t *testing.T) {
	root := isolateWorkspace(t)
	useEngine(t, scriptedEngine{title: "Clip", fetchErr: errors.New("fragment 3 failed")})

	err := Run([]string{"fetch", "--interval", "10ms", "--downloads-dir", filepath.Join(root, "media"), "https://www.youtube.com/watch?v=x"})
	if err == nil || !strings.Contains(err.Error(), "finished with 1 error") {
		t.Fatalf("expected partial error, got %v", err)
	}
}

func TestFetchCommand_Usage(t *testing.T) {
	isolateWorkspace(t)
	if err := Run([]string{"fetch"}); err == nil {
		t.Fatalf("expected usage error without url")
	}
	useEngine(t, scriptedEngine{title: "Clip"})
	if err := Run([]string{"fetch", "--type", "album", "https://youtu.be/x"}); !errors.Is(err, jobs.ErrInvalidRequest) {
		t.Fatalf("expected invalid request, got %v", err)
	}
}

func TestStatusCommand_AgainstServer(t *testing.T) {
	root := isolateWorkspace(t)
	svc := jobs.NewService(scriptedEngine{title: "Clip"}, jobs.Options{DownloadsDir: filepath.Join(root, "downloads")})
	srv, err := api.NewServer(api.Config{Addr: "127.0.0.1:0"}, svc, nil)
	if err != nil {
		t.Fatal(err)
	}
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	id, err := svc.Submit(model.Request{URL: "https://www.youtube.com/watch?v=x"})
	if err != nil {
		t.Fatal(err)
	}
	if err := svc.Shutdown(context.Background()); err != nil {
		t.Fatal(err)
	}

	if err := Run([]string{"status", "--server", ts.URL, "--json", id}); err != nil {
		t.Fatalf("status: %v", err)
	}
	if err := Run([]string{"status", "--server", ts.URL, "--watch", "--interval", "10ms", id}); err != nil {
		t.Fatalf("status --watch: %v", err)
	}
	if err := Run([]string{"status", "--server", ts.URL}); err != nil {
		t.Fatalf("status list: %v", err)
	}
	if err := Run([]string{"status", "--server", ts.URL, "missing_id"}); !errors.Is(err, jobs.ErrJobNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if err := Run([]string{"status", "--server", ts.URL, "--watch"}); err == nil {
		t.Fatalf("expected --watch without id to fail")
	}
}

func TestInitAndDoctorCommands(t *testing.T) {
	root := isolateWorkspace(t)
	bin := filepath.Join(root, "bin")
	if err := os.MkdirAll(bin, 0o755); err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"yt-dlp", "ffmpeg"} {
		if err := os.WriteFile(filepath.Join(bin, name), []byte("#!/bin/sh\n"), 0o755); err != nil {
			t.Fatal(err)
		}
	}
	t.Setenv("PATH", bin)

	if err := Run([]string{"init", "--json"}); err != nil {
		t.Fatalf("init: %v", err)
	}
	if _, err := os.Stat(filepath.Join(root, config.DefaultConfigPath)); err != nil {
		t.Fatalf("expected settings file: %v", err)
	}
	if err := Run([]string{"doctor"}); err != nil {
		t.Fatalf("doctor: %v", err)
	}

	t.Setenv("PATH", t.TempDir())
	if err := Run([]string{"doctor"}); err == nil {
		t.Fatalf("expected doctor to fail without yt-dlp")
	}
}

func TestRun_UnknownCommand(t *testing.T) {
	if err := Run([]string{"frobnicate"}); err == nil {
		t.Fatalf("expected unknown command error")
	}
	if err := Run(nil); err != nil {
		t.Fatalf("empty args must print usage: %v", err)
	}
}
