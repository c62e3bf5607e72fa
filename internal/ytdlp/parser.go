package ytdlp

import (
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"yt-job-server/internal/model"
)

const (
	progressPrefix    = "[progress] "
	postprocessPrefix = "[postprocess] "

	downloadTemplate = progressPrefix +
		"%(info.format_id)s|%(info.playlist_index)s|%(progress.filename)s|" +
		"%(progress.downloaded_bytes)s|%(progress.total_bytes)s|%(progress.total_bytes_estimate)s|" +
		"%(progress.speed)s|%(progress.eta)s|%(progress.status)s"
	postprocessTemplate = postprocessPrefix + "%(progress.postprocessor)s|%(progress.status)s"

	// fields after the filename in a download template line
	progressTailFields = 6
)

// Plain "[download]  42.0% of ~ 10.00MiB at 1.20MiB/s ETA 00:08" lines, used
// when the template output is unavailable.
var (
	rePct   = regexp.MustCompile(`([0-9]+(?:\.[0-9]+)?)%`)
	reSpeed = regexp.MustCompile(`\bat\s+([^\s]+)`)
	reETA   = regexp.MustCompile(`\bETA\s+([0-9:]+)`)
	reOf    = regexp.MustCompile(`\bof\s+~?\s*([^\s]+)`)
)

var postprocessorLines = map[string]string{
	"[Merger] Merging formats into":   model.PostprocessorMerger,
	"[ExtractAudio] Destination:":     model.PostprocessorExtractAudio,
	"[VideoConvertor] Converting":     model.PostprocessorConvertor,
	"[VideoRemuxer] Remuxing":         model.PostprocessorRemuxer,
	"[VideoRemuxer] Not remuxing":     "",
	"[VideoConvertor] Not converting": "",
}

// lineParser turns yt-dlp output lines into events. It keeps state between
// lines and must be used from one goroutine.
type lineParser struct {
	playlist bool
	now      func() time.Time

	destination string
}

func newLineParser(playlist bool) *lineParser {
	return &lineParser{playlist: playlist, now: time.Now}
}

func (p *lineParser) Parse(stream OutputStream, raw string) (model.Event, bool) {
	line := strings.TrimSpace(raw)
	if line == "" {
		return model.Event{}, false
	}

	var (
		ev model.Event
		ok bool
	)
	switch {
	case strings.HasPrefix(line, progressPrefix):
		ev, ok = p.parseProgress(strings.TrimPrefix(line, progressPrefix))
	case strings.HasPrefix(line, postprocessPrefix):
		ev, ok = parsePostprocess(strings.TrimPrefix(line, postprocessPrefix))
	case strings.HasPrefix(line, "ERROR:"):
		ev, ok = parseError(strings.TrimPrefix(line, "ERROR:"))
	case strings.HasPrefix(line, "[download] Destination:"):
		p.destination = strings.TrimSpace(strings.TrimPrefix(line, "[download] Destination:"))
	case strings.HasPrefix(line, "[download]"):
		ev, ok = p.parsePlainProgress(line)
	default:
		ev, ok = parsePostprocessorLine(line)
	}
	if !ok {
		if stream == StreamStderr {
			log.Debugw("yt-dlp", "line", line)
		}
		return model.Event{}, false
	}
	ev.At = p.now()
	return ev, true
}

func (p *lineParser) parseProgress(body string) (model.Event, bool) {
	fields := strings.Split(body, "|")
	if len(fields) < 3+progressTailFields {
		return model.Event{}, false
	}
	formatID := templateValue(fields[0])
	index := templateValue(fields[1])
	tail := fields[len(fields)-progressTailFields:]
	filename := strings.Join(fields[2:len(fields)-progressTailFields], "|")

	total := parseNumber(tail[1])
	if total <= 0 {
		total = parseNumber(tail[2])
	}
	ev := model.Event{
		PartKey:         p.partKey(formatID, index, filename),
		Filename:        templateValue(filename),
		DownloadedBytes: int64(parseNumber(tail[0])),
		TotalBytes:      int64(total),
		SpeedHint:       parseNumber(tail[3]),
		ETAHint:         parseNumber(tail[4]),
	}
	switch templateValue(tail[5]) {
	case "downloading":
		ev.Kind = model.EventDownloading
	case "finished":
		ev.Kind = model.EventFinished
	case "error":
		ev.Kind = model.EventError
		ev.Message = "download failed: " + filepath.Base(ev.Filename)
	default:
		return model.Event{}, false
	}
	return ev, true
}

func (p *lineParser) partKey(formatID, index, filename string) string {
	key := formatID
	if key == "" {
		if f := templateValue(filename); f != "" {
			key = filepath.Base(f)
		}
	}
	if key == "" {
		return ""
	}
	if p.playlist && index != "" {
		return index + ":" + key
	}
	return key
}

func (p *lineParser) parsePlainProgress(line string) (model.Event, bool) {
	m := rePct.FindStringSubmatch(line)
	if len(m) < 2 {
		return model.Event{}, false
	}
	pct, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return model.Event{}, false
	}

	ev := model.Event{Kind: model.EventDownloading, Filename: p.destination}
	if p.destination != "" {
		ev.PartKey = filepath.Base(p.destination)
	}
	if m := reOf.FindStringSubmatch(line); len(m) > 1 {
		if size, err := humanize.ParseBytes(m[1]); err == nil {
			ev.TotalBytes = int64(size)
			ev.DownloadedBytes = int64(float64(size) * pct / 100)
		}
	}
	if m := reSpeed.FindStringSubmatch(line); len(m) > 1 {
		if rate, err := humanize.ParseBytes(strings.TrimSuffix(m[1], "/s")); err == nil {
			ev.SpeedHint = float64(rate)
		}
	}
	if m := reETA.FindStringSubmatch(line); len(m) > 1 {
		ev.ETAHint = parseClock(m[1])
	}
	return ev, true
}

func parsePostprocess(body string) (model.Event, bool) {
	name, status, ok := strings.Cut(body, "|")
	name = templateValue(name)
	if !ok || name == "" {
		return model.Event{}, false
	}
	switch templateValue(status) {
	case "started":
		return model.Event{Kind: model.EventPostprocessorStarted, Postprocessor: name}, true
	case "finished":
		return model.Event{Kind: model.EventPostprocessorFinished, Postprocessor: name}, true
	default:
		return model.Event{}, false
	}
}

func parsePostprocessorLine(line string) (model.Event, bool) {
	for prefix, name := range postprocessorLines {
		if !strings.HasPrefix(line, prefix) {
			continue
		}
		if name == "" {
			return model.Event{}, false
		}
		target := strings.Trim(strings.TrimSpace(strings.TrimPrefix(line, prefix)), `"`)
		return model.Event{Kind: model.EventPostprocessorStarted, Postprocessor: name, Filename: target}, true
	}
	return model.Event{}, false
}

func parseError(msg string) (model.Event, bool) {
	msg = strings.TrimSpace(msg)
	if msg == "" {
		return model.Event{}, false
	}
	switch {
	case isDependencyError(msg):
		msg = "missing dependency: " + msg
	case strings.Contains(msg, "Incomplete data received"):
		msg += " (the site returned incomplete data; try a smaller playlist range or single videos)"
	}
	return model.Event{Kind: model.EventError, Message: msg}, true
}

func templateValue(v string) string {
	v = strings.TrimSpace(v)
	if v == "NA" || v == "None" {
		return ""
	}
	return v
}

func parseNumber(v string) float64 {
	v = templateValue(v)
	if v == "" {
		return 0
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f < 0 {
		return 0
	}
	return f
}

// parseClock converts "1:02:03", "02:03" or "3" to seconds.
func parseClock(v string) float64 {
	var total float64
	for _, part := range strings.Split(v, ":") {
		n, err := strconv.Atoi(part)
		if err != nil {
			return 0
		}
		total = total*60 + float64(n)
	}
	return total
}
