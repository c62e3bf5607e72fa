package ytdlp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	logging "github.com/ipfs/go-log/v2"

	"yt-job-server/internal/model"
)

var log = logging.Logger("ytdlp")

type OutputStream string

const (
	StreamStdout OutputStream = "stdout"
	StreamStderr OutputStream = "stderr"
)

const (
	defaultBinary        = "yt-dlp"
	defaultRetries       = 10
	defaultSocketTimeout = 30
	defaultPlaylistItems = "1-1000"
	defaultAudioCodec    = "mp3"
	defaultAudioQuality  = "192K"
	defaultOutputName    = "%(title)s.%(ext)s"
)

type Options struct {
	Binary             string
	CookiesPath        string
	CookiesFromBrowser string
	ProxyURL           string
	JSRuntime          string
	DownloadLimitMBps  float64
	Retries            int
	FragmentRetries    int
	ExtractorRetries   int
	SocketTimeoutSec   int
	PlaylistItems      string
	AudioCodec         string
	AudioQuality       string
	// LogWriter receives every raw output line when set.
	LogWriter io.Writer
}

// Client drives the yt-dlp binary. It is safe for concurrent use; each call
// runs its own process.
type Client struct {
	opts Options
}

func New(opts Options) *Client {
	if strings.TrimSpace(opts.Binary) == "" {
		opts.Binary = defaultBinary
	}
	if opts.Retries <= 0 {
		opts.Retries = defaultRetries
	}
	if opts.FragmentRetries <= 0 {
		opts.FragmentRetries = defaultRetries
	}
	if opts.ExtractorRetries <= 0 {
		opts.ExtractorRetries = defaultRetries
	}
	if opts.SocketTimeoutSec <= 0 {
		opts.SocketTimeoutSec = defaultSocketTimeout
	}
	if strings.TrimSpace(opts.PlaylistItems) == "" {
		opts.PlaylistItems = defaultPlaylistItems
	}
	if strings.TrimSpace(opts.AudioCodec) == "" {
		opts.AudioCodec = defaultAudioCodec
	}
	if strings.TrimSpace(opts.AudioQuality) == "" {
		opts.AudioQuality = defaultAudioQuality
	}
	return &Client{opts: opts}
}

type probeInfo struct {
	Type    string            `json:"_type"`
	Title   string            `json:"title"`
	Entries []json.RawMessage `json:"entries"`
	Formats []formatInfo      `json:"formats"`
}

type formatInfo struct {
	FormatID       string   `json:"format_id"`
	Ext            string   `json:"ext"`
	Resolution     string   `json:"resolution"`
	FPS            *float64 `json:"fps"`
	Filesize       *float64 `json:"filesize"`
	FilesizeApprox *float64 `json:"filesize_approx"`
	VCodec         string   `json:"vcodec"`
	ACodec         string   `json:"acodec"`
	ABR            *float64 `json:"abr"`
}

// Probe resolves the title and number of media items behind url without
// downloading anything.
func (c *Client) Probe(ctx context.Context, url string) (model.ProbeResult, error) {
	if strings.TrimSpace(url) == "" {
		return model.ProbeResult{}, fmt.Errorf("source URL is required")
	}
	args := []string{"--flat-playlist", "-J", "--ignore-errors"}
	args, err := c.appendCommonArgs(args)
	if err != nil {
		return model.ProbeResult{}, err
	}
	args = append(args, url)

	var info probeInfo
	if err := c.runJSON(ctx, args, &info); err != nil {
		return model.ProbeResult{}, err
	}

	res := model.ProbeResult{Title: strings.TrimSpace(info.Title), TotalUnits: 1}
	if info.Type == "playlist" || info.Entries != nil {
		res.TotalUnits = 0
		for _, e := range info.Entries {
			if v := bytes.TrimSpace(e); len(v) > 0 && string(v) != "null" {
				res.TotalUnits++
			}
		}
	}
	return res, nil
}

// Formats lists the downloadable streams of a single video.
func (c *Client) Formats(ctx context.Context, url string) (model.FormatList, error) {
	if strings.TrimSpace(url) == "" {
		return model.FormatList{}, fmt.Errorf("source URL is required")
	}
	args := []string{"-J", "--no-playlist"}
	args, err := c.appendCommonArgs(args)
	if err != nil {
		return model.FormatList{}, err
	}
	args = append(args, url)

	var info probeInfo
	if err := c.runJSON(ctx, args, &info); err != nil {
		return model.FormatList{}, err
	}
	out := model.FormatList{Title: info.Title, Formats: make([]model.Format, 0, len(info.Formats))}
	for _, f := range info.Formats {
		out.Formats = append(out.Formats, f.toModel())
	}
	return out, nil
}

func (f formatInfo) toModel() model.Format {
	out := model.Format{
		FormatID:   f.FormatID,
		Ext:        f.Ext,
		Resolution: f.Resolution,
		VCodec:     f.VCodec,
		ACodec:     f.ACodec,
	}
	if f.FPS != nil {
		out.FPS = *f.FPS
	}
	if f.ABR != nil {
		out.ABR = *f.ABR
	}
	switch {
	case f.Filesize != nil:
		out.FilesizeApprox = int64(*f.Filesize)
	case f.FilesizeApprox != nil:
		out.FilesizeApprox = int64(*f.FilesizeApprox)
	}
	return out
}

// Fetch downloads req and reports progress through onEvent. onEvent is called
// from the calling goroutine only.
func (c *Client) Fetch(ctx context.Context, req model.FetchRequest, onEvent func(model.Event)) error {
	args, err := c.fetchArgs(req)
	if err != nil {
		return err
	}
	parser := newLineParser(req.Playlist)
	return c.runCommand(ctx, args, func(stream OutputStream, line string) {
		if ev, ok := parser.Parse(stream, line); ok && onEvent != nil {
			onEvent(ev)
		}
	})
}

func (c *Client) fetchArgs(req model.FetchRequest) ([]string, error) {
	if strings.TrimSpace(req.URL) == "" {
		return nil, fmt.Errorf("source URL is required")
	}
	if strings.TrimSpace(req.OutputDir) == "" {
		return nil, fmt.Errorf("output directory is required")
	}
	selector := strings.TrimSpace(req.Selector)
	if selector == "" {
		selector = "bestvideo*+bestaudio/best"
	}

	args := []string{
		"--newline",
		"--ignore-errors",
		"-f", selector,
		"-P", req.OutputDir,
		"-o", defaultOutputName,
		"--retries", strconv.Itoa(c.opts.Retries),
		"--fragment-retries", strconv.Itoa(c.opts.FragmentRetries),
		"--extractor-retries", strconv.Itoa(c.opts.ExtractorRetries),
		"--socket-timeout", strconv.Itoa(c.opts.SocketTimeoutSec),
		"--skip-unavailable-fragments",
		"--progress-template", "download:" + downloadTemplate,
		"--progress-template", "postprocess:" + postprocessTemplate,
	}
	if req.Playlist {
		args = append(args, "--yes-playlist", "--playlist-items", c.opts.PlaylistItems)
	} else {
		args = append(args, "--no-playlist")
	}
	if req.ExtractAudio {
		args = append(args, "-x", "--audio-format", c.opts.AudioCodec, "--audio-quality", c.opts.AudioQuality)
	}
	if c.opts.DownloadLimitMBps > 0 {
		args = append(args, "--limit-rate", formatRateLimitMBps(c.opts.DownloadLimitMBps))
	}
	args, err := c.appendCommonArgs(args)
	if err != nil {
		return nil, err
	}
	return append(args, req.URL), nil
}

func (c *Client) appendCommonArgs(args []string) ([]string, error) {
	if strings.TrimSpace(c.opts.CookiesPath) != "" {
		cookiesPath, err := resolveCookiesPath(c.opts.CookiesPath)
		if err != nil {
			return nil, err
		}
		args = append(args, "--cookies", cookiesPath)
	}
	if strings.TrimSpace(c.opts.CookiesFromBrowser) != "" {
		args = append(args, "--cookies-from-browser", c.opts.CookiesFromBrowser)
	}
	if strings.TrimSpace(c.opts.ProxyURL) != "" {
		args = append(args, "--proxy", strings.TrimSpace(c.opts.ProxyURL))
	}
	return appendJSRuntimeArgs(args, c.opts.JSRuntime)
}

func (c *Client) runJSON(ctx context.Context, args []string, v any) error {
	cmd := exec.CommandContext(ctx, c.opts.Binary, args...)
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	log.Debugw("running yt-dlp", "args", args)
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("yt-dlp failed: %w: %s", err, lastErrorLine(stderr.String()))
	}
	if stdout.Len() == 0 {
		return fmt.Errorf("yt-dlp returned empty output")
	}
	if err := json.Unmarshal(stdout.Bytes(), v); err != nil {
		return fmt.Errorf("parse yt-dlp JSON: %w", err)
	}
	return nil
}

type outputLine struct {
	stream OutputStream
	text   string
}

// runCommand streams both pipes into one channel so handle only ever runs on
// the caller's goroutine.
func (c *Client) runCommand(ctx context.Context, args []string, handle func(OutputStream, string)) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	cmd := exec.CommandContext(ctx, c.opts.Binary, args...)
	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("setup stdout pipe: %w", err)
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("setup stderr pipe: %w", err)
	}

	log.Debugw("running yt-dlp", "args", args)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start yt-dlp: %w", err)
	}

	lines := make(chan outputLine, 64)
	var wg sync.WaitGroup
	read := func(stream OutputStream, r io.Reader) {
		defer wg.Done()
		scanner := bufio.NewScanner(r)
		buf := make([]byte, 0, 64*1024)
		scanner.Buffer(buf, 1024*1024)
		scanner.Split(splitByNewlineOrCR)
		for scanner.Scan() {
			select {
			case lines <- outputLine{stream: stream, text: scanner.Text()}:
			case <-ctx.Done():
				return
			}
		}
	}
	wg.Add(2)
	go read(StreamStdout, stdoutPipe)
	go read(StreamStderr, stderrPipe)
	go func() {
		wg.Wait()
		close(lines)
	}()

	var outBuf strings.Builder
	var errBuf strings.Builder
	var handlerPanic any
	for l := range lines {
		appendLimited(&outBuf, &errBuf, l.stream, l.text)
		if c.opts.LogWriter != nil {
			_, _ = io.WriteString(c.opts.LogWriter, l.text+"\n")
		}
		if handle != nil && handlerPanic == nil {
			if handlerPanic = callHandler(handle, l.stream, l.text); handlerPanic != nil {
				cancel()
			}
		}
	}

	waitErr := cmd.Wait()
	// The child is reaped before the panic resumes in the caller.
	if handlerPanic != nil {
		panic(handlerPanic)
	}
	if err := waitErr; err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("yt-dlp failed: %w\n%s", err, strings.TrimSpace(errBuf.String()))
	}
	return nil
}

func callHandler(handle func(OutputStream, string), stream OutputStream, text string) (p any) {
	defer func() { p = recover() }()
	handle(stream, text)
	return nil
}

func splitByNewlineOrCR(data []byte, atEOF bool) (advance int, token []byte, err error) {
	for i := 0; i < len(data); i++ {
		if data[i] == '\n' || data[i] == '\r' {
			if i == 0 {
				return 1, nil, nil
			}
			return i + 1, data[:i], nil
		}
	}
	if atEOF && len(data) > 0 {
		return len(data), data, nil
	}
	return 0, nil, nil
}

func appendLimited(outBuf, errBuf *strings.Builder, stream OutputStream, line string) {
	const maxKeep = 8192
	b := outBuf
	if stream == StreamStderr {
		b = errBuf
	}
	if b.Len() >= maxKeep {
		return
	}
	toWrite := line + "\n"
	remain := maxKeep - b.Len()
	if len(toWrite) > remain {
		toWrite = toWrite[:remain]
	}
	b.WriteString(toWrite)
}

// lastErrorLine picks the most useful line of yt-dlp stderr for a one-line
// error message.
func lastErrorLine(stderr string) string {
	lines := strings.Split(strings.TrimSpace(stderr), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		l := strings.TrimSpace(lines[i])
		if strings.HasPrefix(l, "ERROR:") {
			return strings.TrimSpace(strings.TrimPrefix(l, "ERROR:"))
		}
	}
	return strings.TrimSpace(lines[len(lines)-1])
}

func formatRateLimitMBps(v float64) string {
	return fmt.Sprintf("%gM", v)
}

func resolveCookiesPath(path string) (string, error) {
	p := strings.TrimSpace(path)
	if p == "" {
		return "", nil
	}
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", fmt.Errorf("resolve cookies path %s: %w", p, err)
	}
	if _, err := os.Stat(abs); err != nil {
		return "", fmt.Errorf("cookies file %s: %w", abs, err)
	}
	return abs, nil
}
