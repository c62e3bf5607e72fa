package ytdlp

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func setupRuntimeBinary(t *testing.T, dir, name string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte("#!/bin/sh\nexit 0\n"), 0o755); err != nil {
		t.Fatal(err)
	}
}

func TestProbePassesJSRuntimeArgs(t *testing.T) {
	argsLog := filepath.Join(t.TempDir(), "ytdlp-args.log")
	t.Setenv("YTDLP_ARGS_LOG", argsLog)
	installFakeYTDLP(t, `#!/usr/bin/env bash
set -euo pipefail
printf '%s ' "$@" >> "$YTDLP_ARGS_LOG"
echo '{"title":"Clip"}'
`)

	if _, err := New(Options{JSRuntime: "node"}).Probe(context.Background(), "https://example.com/v"); err != nil {
		t.Fatalf("probe: %v", err)
	}
	logged, err := os.ReadFile(argsLog)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(logged), "--no-js-runtimes --js-runtimes node") {
		t.Fatalf("expected js runtime args in yt-dlp invocation, got:\n%s", logged)
	}
}

func TestCheckJSRuntime(t *testing.T) {
	bin := t.TempDir()
	setupRuntimeBinary(t, bin, "qjs")
	t.Setenv("PATH", bin)

	if got, err := CheckJSRuntime(""); err != nil || got != "auto" {
		t.Fatalf("empty runtime: got %q err=%v", got, err)
	}
	if got, err := CheckJSRuntime(" QuickJS "); err != nil || got != "quickjs" {
		t.Fatalf("quickjs via qjs: got %q err=%v", got, err)
	}
	if _, err := CheckJSRuntime("deno"); err == nil || !strings.Contains(err.Error(), "missing dependency") {
		t.Fatalf("expected missing deno, got %v", err)
	}
	if _, err := CheckJSRuntime("rhino"); err == nil {
		t.Fatalf("expected invalid runtime to fail")
	}
}

func TestCheckDependencies(t *testing.T) {
	bin := t.TempDir()
	t.Setenv("PATH", bin)
	if err := CheckDependencies(); err == nil || !strings.Contains(err.Error(), "yt-dlp") {
		t.Fatalf("expected missing yt-dlp, got %v", err)
	}
	setupRuntimeBinary(t, bin, "yt-dlp")
	if err := CheckDependencies(); err == nil || !strings.Contains(err.Error(), "ffmpeg") {
		t.Fatalf("expected missing ffmpeg, got %v", err)
	}
	setupRuntimeBinary(t, bin, "ffmpeg")
	if err := CheckDependencies(); err != nil {
		t.Fatalf("expected dependencies to pass: %v", err)
	}
	if report := DependencyStatus(); !report.YTDLPFound || !report.FFmpegFound {
		t.Fatalf("unexpected report: %+v", report)
	}
}

func TestIsDependencyError(t *testing.T) {
	if !isDependencyError("Postprocessing: ffprobe and ffmpeg not found") {
		t.Fatalf("expected ffmpeg hint to match")
	}
	if isDependencyError("Video unavailable") {
		t.Fatalf("unexpected match")
	}
}
