package cli

import "fmt"

func Run(args []string) error {
	if len(args) == 0 {
		printRootUsage()
		return nil
	}

	switch args[0] {
	case "serve":
		return runServe(args[1:])
	case "fetch":
		return runFetch(args[1:])
	case "status":
		return runStatus(args[1:])
	case "doctor":
		return runDoctor(args[1:])
	case "init":
		return runInit(args[1:])
	case "settings":
		return runSettings(args[1:])
	case "help", "-h", "--help":
		printRootUsage()
		return nil
	default:
		printRootUsage()
		return fmt.Errorf("unknown command %q", args[0])
	}
}

func printRootUsage() {
	fmt.Println("yt-job-server: background yt-dlp jobs with live progress")
	fmt.Println()
	fmt.Println("Quick Start:")
	fmt.Println("  yt-job-server init")
	fmt.Println("  yt-job-server serve")
	fmt.Println("  yt-job-server fetch <url>")
	fmt.Println("  yt-job-server status --watch <job-id>")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  serve     run the HTTP job server")
	fmt.Println("  fetch     run one job in-process with a live progress view")
	fmt.Println("  status    list jobs or show one job from a running server")
	fmt.Println("  doctor    run dependency and filesystem preflight checks")
	fmt.Println("  init      write default settings and create the downloads directory")
	fmt.Println("  settings  show/update the settings file")
	fmt.Println()
	fmt.Println("Notes:")
	fmt.Println("  - Settings are read from yt-job-server.json (override with --config)")
	fmt.Println("  - PORT and DEBUG environment variables override the settings file")
	fmt.Println("  - Use --json on commands for machine-readable output")
}
