package ytdlp

import (
	"errors"
	"fmt"
	"os/exec"
	"sort"
	"strings"
)

const jsRuntimeAuto = "auto"

// jsRuntimeBinaries maps each runtime yt-dlp accepts to the executables that
// provide it.
var jsRuntimeBinaries = map[string][]string{
	"deno":    {"deno"},
	"node":    {"node"},
	"quickjs": {"quickjs", "qjs"},
	"bun":     {"bun"},
}

// Substrings of yt-dlp errors caused by a missing ffmpeg install.
var dependencyHints = []string{
	"ffmpeg could not be found",
	"ffprobe could not be found",
	"ffmpeg not found",
}

type DependencyReport struct {
	YTDLPFound  bool   `json:"yt_dlp_found"`
	YTDLPPath   string `json:"yt_dlp_path,omitempty"`
	FFmpegFound bool   `json:"ffmpeg_found"`
	FFmpegPath  string `json:"ffmpeg_path,omitempty"`
}

// Err describes the first missing dependency, or returns nil.
func (r DependencyReport) Err() error {
	switch {
	case !r.YTDLPFound:
		return errors.New("missing dependency: yt-dlp is not installed or not on PATH")
	case !r.FFmpegFound:
		return errors.New("missing dependency: ffmpeg is required to merge formats and extract audio and was not found on PATH")
	}
	return nil
}

func DependencyStatus() DependencyReport {
	var report DependencyReport
	report.YTDLPPath, report.YTDLPFound = lookPath(defaultBinary)
	report.FFmpegPath, report.FFmpegFound = lookPath("ffmpeg")
	return report
}

func CheckDependencies() error {
	return DependencyStatus().Err()
}

// CheckJSRuntime validates raw and, unless it is auto, requires one of the
// runtime's executables on PATH.
func CheckJSRuntime(raw string) (string, error) {
	runtime, err := parseJSRuntime(raw)
	if err != nil || runtime == jsRuntimeAuto {
		return runtime, err
	}
	candidates := jsRuntimeBinaries[runtime]
	for _, bin := range candidates {
		if _, ok := lookPath(bin); ok {
			return runtime, nil
		}
	}
	return "", fmt.Errorf("missing dependency for js runtime %q: install one of [%s] or set js runtime to auto", runtime, strings.Join(candidates, ", "))
}

func appendJSRuntimeArgs(args []string, raw string) ([]string, error) {
	runtime, err := parseJSRuntime(raw)
	if err != nil {
		return nil, err
	}
	if runtime == jsRuntimeAuto {
		return args, nil
	}
	return append(args, "--no-js-runtimes", "--js-runtimes", runtime), nil
}

func parseJSRuntime(raw string) (string, error) {
	runtime := strings.ToLower(strings.TrimSpace(raw))
	if runtime == "" || runtime == jsRuntimeAuto {
		return jsRuntimeAuto, nil
	}
	if _, ok := jsRuntimeBinaries[runtime]; ok {
		return runtime, nil
	}
	names := make([]string, 0, len(jsRuntimeBinaries))
	for name := range jsRuntimeBinaries {
		names = append(names, name)
	}
	sort.Strings(names)
	return "", fmt.Errorf("invalid js runtime %q (expected %s or %s)", strings.TrimSpace(raw), jsRuntimeAuto, strings.Join(names, ", "))
}

func isDependencyError(msg string) bool {
	text := strings.ToLower(msg)
	for _, hint := range dependencyHints {
		if strings.Contains(text, hint) {
			return true
		}
	}
	return false
}

func lookPath(bin string) (string, bool) {
	path, err := exec.LookPath(bin)
	if err != nil {
		return "", false
	}
	return path, true
}
