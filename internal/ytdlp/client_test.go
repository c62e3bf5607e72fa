package ytdlp

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"testing"
	"time"

	"yt-job-server/internal/model"
)

func installFakeYTDLP(t *testing.T, script string) {
	t.Helper()
	fakeBin := filepath.Join(t.TempDir(), "bin")
	if err := os.MkdirAll(fakeBin, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(fakeBin, "yt-dlp"), []byte(script), 0o755); err != nil {
		t.Fatal(err)
	}
	t.Setenv("PATH", fakeBin+":"+os.Getenv("PATH"))
}

func hasArgs(args []string, seq ...string) bool {
	for i := 0; i+len(seq) <= len(args); i++ {
		match := true
		for j, s := range seq {
			if args[i+j] != s {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}

func TestFormatRateLimitMBps(t *testing.T) {
	if got := formatRateLimitMBps(10); got != "10M" {
		t.Fatalf("unexpected rate format: got %q want %q", got, "10M")
	}
	if got := formatRateLimitMBps(2.5); got != "2.5M" {
		t.Fatalf("unexpected rate format: got %q want %q", got, "2.5M")
	}
}

func TestFetchArgs(t *testing.T) {
	c := New(Options{DownloadLimitMBps: 4, ProxyURL: " socks5://127.0.0.1:9050 ", JSRuntime: "auto"})

	single, err := c.fetchArgs(model.FetchRequest{URL: "https://example.com/v", OutputDir: "/out", Selector: "137+140"})
	if err != nil {
		t.Fatalf("fetch args: %v", err)
	}
	for _, seq := range [][]string{
		{"-f", "137+140"},
		{"-P", "/out"},
		{"--no-playlist"},
		{"--retries", "10"},
		{"--fragment-retries", "10"},
		{"--socket-timeout", "30"},
		{"--limit-rate", "4M"},
		{"--proxy", "socks5://127.0.0.1:9050"},
	} {
		if !hasArgs(single, seq...) {
			t.Fatalf("expected %v in %v", seq, single)
		}
	}
	if single[len(single)-1] != "https://example.com/v" {
		t.Fatalf("url must be the last argument: %v", single)
	}
	if hasArgs(single, "-x") {
		t.Fatalf("single video must not extract audio")
	}

	playlist, err := c.fetchArgs(model.FetchRequest{URL: "https://example.com/l", OutputDir: "/out", Selector: "bestaudio/best", Playlist: true, ExtractAudio: true})
	if err != nil {
		t.Fatalf("fetch args: %v", err)
	}
	for _, seq := range [][]string{
		{"--yes-playlist", "--playlist-items", "1-1000"},
		{"-x", "--audio-format", "mp3", "--audio-quality", "192K"},
	} {
		if !hasArgs(playlist, seq...) {
			t.Fatalf("expected %v in %v", seq, playlist)
		}
	}

	if _, err := c.fetchArgs(model.FetchRequest{URL: "https://example.com/v"}); err == nil {
		t.Fatalf("expected missing output dir to fail")
	}
	if _, err := New(Options{JSRuntime: "rhino"}).fetchArgs(model.FetchRequest{URL: "u", OutputDir: "/o"}); err == nil {
		t.Fatalf("expected invalid js runtime to fail")
	}
}

func TestProbe_CountsPlaylistEntries(t *testing.T) {
	installFakeYTDLP(t, `#!/usr/bin/env bash
set -euo pipefail
echo '{"_type":"playlist","title":"Mix","entries":[{"id":"a"},null,{"id":"b"}]}'
`)
	res, err := New(Options{}).Probe(context.Background(), "https://example.com/list")
	if err != nil {
		t.Fatalf("probe: %v", err)
	}
	if res.Title != "Mix" || res.TotalUnits != 2 {
		t.Fatalf("unexpected probe result: %+v", res)
	}
}

func TestProbe_SingleVideo(t *testing.T) {
	installFakeYTDLP(t, `#!/usr/bin/env bash
set -euo pipefail
echo '{"_type":"video","id":"abc","title":"Clip"}'
`)
	res, err := New(Options{}).Probe(context.Background(), "https://example.com/v")
	if err != nil {
		t.Fatalf("probe: %v", err)
	}
	if res.Title != "Clip" || res.TotalUnits != 1 {
		t.Fatalf("unexpected probe result: %+v", res)
	}
}

func TestProbe_ReportsEngineError(t *testing.T) {
	installFakeYTDLP(t, `#!/usr/bin/env bash
echo "WARNING: retrying" >&2
echo "ERROR: [generic] Unsupported URL: https://example.com/x" >&2
exit 1
`)
	_, err := New(Options{}).Probe(context.Background(), "https://example.com/x")
	if err == nil || !strings.Contains(err.Error(), "Unsupported URL") {
		t.Fatalf("expected unsupported URL error, got %v", err)
	}
}

func TestFormats(t *testing.T) {
	installFakeYTDLP(t, `#!/usr/bin/env bash
set -euo pipefail
cat <<'JSON'
{"title":"Clip","formats":[
 {"format_id":"137","ext":"mp4","resolution":"1920x1080","fps":30,"filesize":1000,"vcodec":"avc1","acodec":"none"},
 {"format_id":"140","ext":"m4a","resolution":"audio only","filesize_approx":500.7,"abr":129.5,"vcodec":"none","acodec":"mp4a.40.2"}
]}
JSON
`)
	list, err := New(Options{}).Formats(context.Background(), "https://example.com/v")
	if err != nil {
		t.Fatalf("formats: %v", err)
	}
	if list.Title != "Clip" || len(list.Formats) != 2 {
		t.Fatalf("unexpected list: %+v", list)
	}
	if f := list.Formats[0]; f.FormatID != "137" || f.FPS != 30 || f.FilesizeApprox != 1000 {
		t.Fatalf("unexpected video format: %+v", f)
	}
	if f := list.Formats[1]; f.FilesizeApprox != 500 || f.ABR != 129.5 || f.ACodec != "mp4a.40.2" {
		t.Fatalf("unexpected audio format: %+v", f)
	}
}

func TestFetch_EmitsEventsInOrder(t *testing.T) {
	installFakeYTDLP(t, `#!/usr/bin/env bash
set -euo pipefail
out=""
prev=""
for a in "$@"; do
  if [ "$prev" = "-P" ]; then out="$a"; fi
  prev="$a"
done
echo "[progress] 137|NA|$out/clip.f137.mp4|0|100|NA|NA|NA|downloading"
echo "[progress] 137|NA|$out/clip.f137.mp4|100|100|NA|50.0|0|downloading"
echo "[progress] 137|NA|$out/clip.f137.mp4|100|100|NA|NA|NA|finished"
echo "WARNING: unrelated" >&2
printf '[progress] 140|NA|%s/clip.f140.m4a|50|50|NA|NA|NA|finished\r' "$out"
echo "[postprocess] Merger|started"
echo "[Merger] Merging formats into \"$out/clip.mp4\""
echo "[postprocess] Merger|finished"
touch "$out/clip.mp4"
`)
	out := t.TempDir()
	var events []model.Event
	err := New(Options{}).Fetch(context.Background(), model.FetchRequest{URL: "https://example.com/v", OutputDir: out, Selector: "137+140"}, func(ev model.Event) {
		events = append(events, ev)
	})
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}

	want := []model.EventKind{
		model.EventDownloading,
		model.EventDownloading,
		model.EventFinished,
		model.EventFinished,
		model.EventPostprocessorStarted,
		model.EventPostprocessorStarted,
		model.EventPostprocessorFinished,
	}
	if len(events) != len(want) {
		t.Fatalf("unexpected event count: got %d want %d (%+v)", len(events), len(want), events)
	}
	for i, kind := range want {
		if events[i].Kind != kind {
			t.Fatalf("event %d: got %q want %q", i, events[i].Kind, kind)
		}
	}
	if events[3].PartKey != "140" {
		t.Fatalf("unexpected part key: %q", events[3].PartKey)
	}
	if _, err := os.Stat(filepath.Join(out, "clip.mp4")); err != nil {
		t.Fatalf("expected merged output: %v", err)
	}
}

func TestFetch_NonZeroExitIsError(t *testing.T) {
	installFakeYTDLP(t, `#!/usr/bin/env bash
echo "ERROR: [youtube] abc: Private video" >&2
exit 1
`)
	var errorsSeen int
	err := New(Options{}).Fetch(context.Background(), model.FetchRequest{URL: "https://example.com/v", OutputDir: t.TempDir()}, func(ev model.Event) {
		if ev.Kind == model.EventError {
			errorsSeen++
		}
	})
	if err == nil || !strings.Contains(err.Error(), "Private video") {
		t.Fatalf("expected exit error with stderr tail, got %v", err)
	}
	if errorsSeen != 1 {
		t.Fatalf("expected one error event, got %d", errorsSeen)
	}
}

func TestFetch_ContextCancelStopsProcess(t *testing.T) {
	installFakeYTDLP(t, `#!/usr/bin/env bash
exec sleep 5
`)
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := New(Options{}).Fetch(ctx, model.FetchRequest{URL: "https://example.com/v", OutputDir: t.TempDir()}, nil)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if time.Since(start) > 3*time.Second {
		t.Fatalf("fetch did not stop promptly")
	}
}

func TestFetch_HandlerPanicReapsProcess(t *testing.T) {
	pidFile := filepath.Join(t.TempDir(), "pid")
	t.Setenv("FAKE_YTDLP_PID_FILE", pidFile)
	installFakeYTDLP(t, `#!/usr/bin/env bash
echo $$ > "$FAKE_YTDLP_PID_FILE"
echo "[progress] 18|NA|/out/clip.mp4|1|10|NA|NA|NA|downloading"
exec sleep 30
`)

	start := time.Now()
	var recovered any
	func() {
		defer func() { recovered = recover() }()
		_ = New(Options{}).Fetch(context.Background(), model.FetchRequest{URL: "https://example.com/v", OutputDir: t.TempDir()}, func(model.Event) {
			panic("handler failed")
		})
	}()
	if recovered != "handler failed" {
		t.Fatalf("expected handler panic to reach the caller, got %v", recovered)
	}
	if time.Since(start) > 10*time.Second {
		t.Fatalf("fetch did not stop promptly after the handler panicked")
	}

	raw, err := os.ReadFile(pidFile)
	if err != nil {
		t.Fatalf("read pid file: %v", err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(raw)))
	if err != nil {
		t.Fatalf("parse pid: %v", err)
	}
	if err := syscall.Kill(pid, 0); !errors.Is(err, syscall.ESRCH) {
		t.Fatalf("yt-dlp process %d was not reaped: %v", pid, err)
	}
}
