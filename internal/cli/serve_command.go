package cli

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"yt-job-server/internal/api"
	"yt-job-server/internal/config"
	"yt-job-server/internal/jobs"
	"yt-job-server/internal/runstore"
	"yt-job-server/internal/ytdlp"
)

const httpShutdownTimeout = 10 * time.Second

func runServe(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	configPath := fs.String("config", config.DefaultConfigPath, "settings file path")
	listen := fs.String("listen", config.DefaultListen, "listen address host:port")
	downloadsDir := fs.String("downloads-dir", config.DefaultDownloadsDir, "directory that receives job output")
	grace := fs.Duration("shutdown-grace", config.DefaultShutdownGraceSec*time.Second, "how long running jobs may finish after a shutdown signal")
	debug := fs.Bool("debug", false, "enable debug logging")
	fs.SetOutput(flag.CommandLine.Output())
	if err := fs.Parse(args); err != nil {
		return err
	}

	settings, err := loadSettings(*configPath)
	if err != nil {
		return err
	}
	set := flagsSet(fs)
	if set["listen"] {
		settings.Listen = strings.TrimSpace(*listen)
	}
	if set["downloads-dir"] {
		settings.DownloadsDir = strings.TrimSpace(*downloadsDir)
	}
	if set["shutdown-grace"] {
		settings.ShutdownGraceSec = int(grace.Seconds())
	}
	if set["debug"] {
		settings.Debug = *debug
	}
	settings = config.Normalize(settings)
	if err := settings.Validate(); err != nil {
		return err
	}
	setLogLevel(settings.Debug)

	if err := ytdlp.CheckDependencies(); err != nil {
		log.Warnw("dependency check failed; jobs will fail until it is fixed", "err", err)
	}

	lock, err := runstore.AcquireDirLock(settings.DownloadsDir, settings.Listen)
	if err != nil {
		return err
	}
	defer func() {
		if err := lock.Release(); err != nil {
			log.Warnw("release downloads lock", "err", err)
		}
	}()

	engine := ytdlp.New(settings.EngineOptions())
	svc := jobs.NewService(engine, jobs.Options{
		DownloadsDir:   settings.DownloadsDir,
		FilesURLPrefix: settings.FilesURLPrefix,
	})
	srv, err := api.NewServer(api.Config{
		Addr:           settings.Listen,
		URLPattern:     settings.URLPattern,
		FilesURLPrefix: settings.FilesURLPrefix,
	}, svc, engine)
	if err != nil {
		return err
	}

	ln, err := net.Listen("tcp", settings.Listen)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", settings.Listen, err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return srv.Serve(ln)
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Infow("shutting down", "active_jobs", svc.Active())

		httpCtx, cancel := context.WithTimeout(context.Background(), httpShutdownTimeout)
		defer cancel()
		httpErr := srv.Shutdown(httpCtx)

		drainCtx, cancelDrain := context.WithTimeout(context.Background(), settings.ShutdownGrace())
		defer cancelDrain()
		if err := svc.Shutdown(drainCtx); err != nil {
			log.Warnw("running jobs canceled after shutdown grace", "grace", settings.ShutdownGrace(), "err", err)
		}
		return httpErr
	})

	fmt.Printf("yt-job-server listening on http://%s (downloads: %s)\n", ln.Addr(), settings.DownloadsDir)
	return g.Wait()
}
