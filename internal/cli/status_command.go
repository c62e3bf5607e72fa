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
	"time"

	"yt-job-server/internal/model"
)

func runStatus(args []string) error {
	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	server := fs.String("server", defaultServerURL, "server base URL")
	watch := fs.Bool("watch", false, "follow the job until it finishes")
	interval := fs.Duration("interval", defaultWatchInterval, "poll interval for --watch")
	jsonOut := fs.Bool("json", false, "print JSON output")
	fs.SetOutput(flag.CommandLine.Output())
	if err := fs.Parse(args); err != nil {
		return err
	}

	client, err := newStatusClient(*server)
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	id := strings.TrimSpace(fs.Arg(0))
	if id == "" {
		if *watch {
			return errors.New("--watch requires a job id")
		}
		return printJobList(ctx, client, *jsonOut)
	}

	if !*watch {
		st, err := client.Status(ctx, id)
		if err != nil {
			return err
		}
		if *jsonOut {
			return printJSON(st)
		}
		printJobSummary(st)
		return nil
	}

	interactive := !*jsonOut && stdoutIsTTY()
	fetch := func(ctx context.Context) (model.JobStatus, error) {
		return client.Status(ctx, id)
	}
	final, stopped, err := watchJob(ctx, fetch, pollInterval(*interval), interactive, os.Stdout)
	if err != nil {
		return err
	}
	if *jsonOut {
		return printJSON(final)
	}
	if stopped {
		fmt.Printf("stopped watching %s (job keeps running on the server)\n", id)
		return nil
	}
	printJobSummary(final)
	return nil
}

func printJobList(ctx context.Context, client *statusClient, jsonOut bool) error {
	list, err := client.List(ctx)
	if err != nil {
		return err
	}
	if jsonOut {
		return printJSON(list)
	}
	if len(list) == 0 {
		fmt.Println("no jobs")
		return nil
	}
	for _, st := range list {
		title := st.Title
		if title == "" {
			title = "-"
		}
		fmt.Printf("%s  %s  %s\n", st.ID, statusLine(st), title)
	}
	return nil
}

// pollInterval clamps user supplied watch intervals.
func pollInterval(d time.Duration) time.Duration {
	if d < 100*time.Millisecond {
		return 100 * time.Millisecond
	}
	return d
}
