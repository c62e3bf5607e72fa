package cli

import (
	"errors"
	"flag"
	"fmt"
	"strings"

	"yt-job-server/internal/config"
)

func runInit(args []string) error {
	fs := flag.NewFlagSet("init", flag.ContinueOnError)
	configPath := fs.String("config", config.DefaultConfigPath, "settings file path")
	jsonOut := fs.Bool("json", false, "print JSON output")
	fs.SetOutput(flag.CommandLine.Output())
	if err := fs.Parse(args); err != nil {
		return err
	}

	res, err := config.Init(config.InitOptions{ConfigPath: strings.TrimSpace(*configPath)})
	if err != nil {
		return err
	}
	if *jsonOut {
		return printJSON(res)
	}

	fmt.Println("workspace initialized")
	fmt.Printf("config: %s\n", res.ConfigPath)
	fmt.Printf("downloads_dir: %s\n", res.DownloadsDir)
	fmt.Printf("created_config: %t\n", res.CreatedConfig)
	fmt.Printf("created_downloads_dir: %t\n", res.CreatedDownloadsDir)
	fmt.Println("checks:")
	printChecks("  ", res.DoctorResult)
	if !res.DoctorResult.OK {
		return errors.New("doctor checks failed")
	}
	fmt.Println("next: yt-job-server serve")
	return nil
}

func runDoctor(args []string) error {
	fs := flag.NewFlagSet("doctor", flag.ContinueOnError)
	configPath := fs.String("config", config.DefaultConfigPath, "settings file path")
	jsonOut := fs.Bool("json", false, "print JSON output")
	fs.SetOutput(flag.CommandLine.Output())
	if err := fs.Parse(args); err != nil {
		return err
	}

	settings, err := loadSettings(*configPath)
	if err != nil {
		return err
	}
	res := config.Doctor(config.DoctorOptions{
		ConfigPath: strings.TrimSpace(*configPath),
		Settings:   settings,
	})
	if *jsonOut {
		return printJSON(res)
	}

	printChecks("", res)
	if !res.OK {
		return errors.New("doctor checks failed")
	}
	fmt.Println("doctor: all checks passed")
	return nil
}

func printChecks(indent string, res config.DoctorResult) {
	for _, c := range res.Checks {
		status := "ok"
		if !c.OK {
			status = "fail"
		}
		fmt.Printf("%s%s: %s (%s)\n", indent, c.Name, status, c.Message)
	}
}
