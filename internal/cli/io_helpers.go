package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"yt-job-server/internal/model"
)

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func stdoutIsTTY() bool {
	return isCharDevice(os.Stdout)
}

func isCharDevice(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}

func formatBytes(n int64) string {
	if n <= 0 {
		return "0 B"
	}
	return humanize.IBytes(uint64(n))
}

func formatSpeed(bps float64) string {
	if bps <= 0 {
		return "-"
	}
	return humanize.IBytes(uint64(bps)) + "/s"
}

func formatSeconds(sec float64) string {
	if sec <= 0 {
		return "-"
	}
	return (time.Duration(sec) * time.Second).Round(time.Second).String()
}

// statusLine renders a one-line summary used by plain output and job lists.
func statusLine(st model.JobStatus) string {
	parts := []string{
		fmt.Sprintf("%3d%%", st.CurrentProgress),
		string(st.Status),
		st.Stage,
	}
	if st.TotalBytes > 0 {
		parts = append(parts, formatBytes(st.DownloadedBytes)+"/"+formatBytes(st.TotalBytes))
	}
	if st.SpeedEstimate > 0 {
		parts = append(parts, formatSpeed(st.SpeedEstimate), "eta "+formatSeconds(st.ETASeconds))
	}
	if st.TotalUnits > 1 {
		parts = append(parts, fmt.Sprintf("%d/%d items", st.CompletedUnits, st.TotalUnits))
	}
	return strings.Join(parts, "  ")
}

func printJobSummary(st model.JobStatus) {
	fmt.Printf("id: %s\n", st.ID)
	if st.Title != "" {
		fmt.Printf("title: %s\n", st.Title)
	}
	fmt.Printf("status: %s\n", st.Status)
	fmt.Printf("stage: %s\n", st.Stage)
	fmt.Printf("progress: %d%%\n", st.CurrentProgress)
	if st.TotalBytes > 0 {
		fmt.Printf("bytes: %s / %s\n", formatBytes(st.DownloadedBytes), formatBytes(st.TotalBytes))
	}
	fmt.Printf("elapsed: %s\n", formatSeconds(st.ElapsedSeconds))
	if st.TotalUnits > 1 {
		fmt.Printf("items: %d/%d\n", st.CompletedUnits, st.TotalUnits)
	}
	if len(st.Files) > 0 {
		fmt.Println("files:")
		for _, f := range st.Files {
			fmt.Printf("  %s (%s) %s\n", f.Name, formatBytes(f.Size), f.URL)
		}
	}
	if len(st.Errors) > 0 {
		fmt.Println("errors:")
		for _, e := range st.Errors {
			fmt.Printf("  - %s\n", e)
		}
	}
}
