package config

import (
	"os"
	"path/filepath"
	"strings"

	"yt-job-server/internal/runstore"
	"yt-job-server/internal/ytdlp"
)

type DoctorOptions struct {
	ConfigPath string
	Settings   Settings
}

type DoctorResult struct {
	OK     bool          `json:"ok"`
	Checks []DoctorCheck `json:"checks"`
}

type DoctorCheck struct {
	Name    string `json:"name"`
	OK      bool   `json:"ok"`
	Message string `json:"message"`
}

type InitOptions struct {
	ConfigPath string
}

type InitResult struct {
	ConfigPath          string       `json:"config_path"`
	DownloadsDir        string       `json:"downloads_dir"`
	CreatedConfig       bool         `json:"created_config"`
	CreatedDownloadsDir bool         `json:"created_downloads_dir"`
	DoctorResult        DoctorResult `json:"doctor"`
}

func Doctor(opts DoctorOptions) DoctorResult {
	settings := Normalize(opts.Settings)
	configPath := NormalizeConfigPath(opts.ConfigPath)

	checks := make([]DoctorCheck, 0, 6)
	dep := ytdlp.DependencyStatus()
	checks = append(checks, DoctorCheck{
		Name:    "dependency:yt-dlp",
		OK:      dep.YTDLPFound,
		Message: dependencyMessage(dep.YTDLPFound, dep.YTDLPPath, "yt-dlp"),
	})
	checks = append(checks, DoctorCheck{
		Name:    "dependency:ffmpeg",
		OK:      dep.FFmpegFound,
		Message: dependencyMessage(dep.FFmpegFound, dep.FFmpegPath, "ffmpeg"),
	})

	runtimeCheck := DoctorCheck{Name: "js-runtime", OK: true}
	if runtime, err := ytdlp.CheckJSRuntime(settings.JSRuntime); err != nil {
		runtimeCheck.OK = false
		runtimeCheck.Message = err.Error()
	} else {
		runtimeCheck.Message = runtime
	}
	checks = append(checks, runtimeCheck)

	settingsCheck := DoctorCheck{Name: "settings", OK: true, Message: "valid"}
	if err := settings.Validate(); err != nil {
		settingsCheck.OK = false
		settingsCheck.Message = err.Error()
	}
	checks = append(checks, settingsCheck)

	dlOK, dlMessage := writableDir(settings.DownloadsDir)
	checks = append(checks, DoctorCheck{Name: "directory:downloads", OK: dlOK, Message: dlMessage})

	cfgOK, cfgMessage := writableDir(filepath.Dir(configPath))
	checks = append(checks, DoctorCheck{Name: "directory:config", OK: cfgOK, Message: cfgMessage})

	ok := true
	for _, c := range checks {
		if !c.OK {
			ok = false
			break
		}
	}
	return DoctorResult{OK: ok, Checks: checks}
}

func Init(opts InitOptions) (InitResult, error) {
	configPath := NormalizeConfigPath(opts.ConfigPath)
	settings, created, err := Ensure(configPath)
	if err != nil {
		return InitResult{}, err
	}

	createdDownloads := false
	if _, err := os.Stat(settings.DownloadsDir); os.IsNotExist(err) {
		createdDownloads = true
	}
	if err := runstore.Mkdir(settings.DownloadsDir); err != nil {
		return InitResult{}, err
	}

	return InitResult{
		ConfigPath:          configPath,
		DownloadsDir:        settings.DownloadsDir,
		CreatedConfig:       created,
		CreatedDownloadsDir: createdDownloads,
		DoctorResult:        Doctor(DoctorOptions{ConfigPath: configPath, Settings: settings}),
	}, nil
}

func dependencyMessage(ok bool, path, name string) string {
	if ok {
		return name + " found at " + path
	}
	return name + " not found on PATH"
}

func writableDir(path string) (bool, string) {
	if strings.TrimSpace(path) == "" {
		return false, "empty path"
	}
	if err := runstore.Writable(path); err != nil {
		return false, err.Error()
	}
	return true, "writable"
}
