package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"yt-job-server/internal/config"
	"yt-job-server/internal/jobs"
	"yt-job-server/internal/model"
	"yt-job-server/internal/ytdlp"
)

// fetchEngine is overridden in tests.
var fetchEngine = func(s config.Settings) (jobs.Engine, error) {
	if err := ytdlp.CheckDependencies(); err != nil {
		return nil, err
	}
	return ytdlp.New(s.EngineOptions()), nil
}

func runFetch(args []string) error {
	fs := flag.NewFlagSet("fetch", flag.ContinueOnError)
	configPath := fs.String("config", config.DefaultConfigPath, "settings file path")
	downloadsDir := fs.String("downloads-dir", config.DefaultDownloadsDir, "directory that receives job output")
	reqType := fs.String("type", string(model.RequestSingle), "request type: single|playlist")
	format := fs.String("format", string(model.MediaVideo), "media format: video|audio")
	videoFormat := fs.String("video-format", "", "video format id (single only)")
	audioFormat := fs.String("audio-format", "", "audio format id (single only)")
	interval := fs.Duration("interval", defaultWatchInterval, "progress refresh interval")
	jsonOut := fs.Bool("json", false, "print the final status as JSON")
	debug := fs.Bool("debug", false, "enable debug logging")
	fs.SetOutput(flag.CommandLine.Output())
	if err := fs.Parse(args); err != nil {
		return err
	}

	target := strings.TrimSpace(fs.Arg(0))
	if target == "" {
		return errors.New("usage: yt-job-server fetch [flags] <url>")
	}

	settings, err := loadSettings(*configPath)
	if err != nil {
		return err
	}
	set := flagsSet(fs)
	if set["downloads-dir"] {
		settings.DownloadsDir = strings.TrimSpace(*downloadsDir)
	}
	if set["debug"] {
		settings.Debug = *debug
	}
	settings = config.Normalize(settings)
	if settings.Debug {
		setLogLevel(true)
	}

	engine, err := fetchEngine(settings)
	if err != nil {
		return err
	}
	svc := jobs.NewService(engine, jobs.Options{
		DownloadsDir:   settings.DownloadsDir,
		FilesURLPrefix: settings.FilesURLPrefix,
	})

	id, err := svc.Submit(model.Request{
		URL:           target,
		Type:          model.RequestType(*reqType),
		Format:        model.MediaFormat(*format),
		VideoFormatID: *videoFormat,
		AudioFormatID: *audioFormat,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fetch := func(context.Context) (model.JobStatus, error) {
		return svc.Status(id)
	}
	interactive := !*jsonOut && stdoutIsTTY()
	_, stopped, watchErr := watchJob(ctx, fetch, pollInterval(*interval), interactive, os.Stdout)
	if stopped || watchErr != nil {
		if err := svc.Cancel(id); err != nil && !errors.Is(err, jobs.ErrJobFinished) {
			log.Warnw("cancel job", "id", id, "err", err)
		}
	}
	// Shutdown returns once the runner has published its terminal status.
	if err := svc.Shutdown(context.Background()); err != nil {
		return err
	}
	if watchErr != nil {
		return watchErr
	}

	final, err := svc.Status(id)
	if err != nil {
		return err
	}
	if *jsonOut {
		if err := printJSON(final); err != nil {
			return err
		}
	} else {
		printJobSummary(final)
	}
	switch final.Status {
	case model.StatusError:
		return fmt.Errorf("job %s failed", id)
	case model.StatusPartial:
		return fmt.Errorf("job %s finished with %d error(s)", id, len(final.Errors))
	}
	return nil
}
