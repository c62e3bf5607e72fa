package cli

import (
	"errors"
	"flag"
	"fmt"
	"strconv"
	"strings"

	"yt-job-server/internal/config"
	"yt-job-server/internal/ytdlp"
)

func runSettings(args []string) error {
	if len(args) == 0 {
		printSettingsUsage()
		return nil
	}
	switch args[0] {
	case "show":
		return runSettingsShow(args[1:])
	case "set":
		return runSettingsSet(args[1:])
	case "help", "-h", "--help":
		printSettingsUsage()
		return nil
	default:
		printSettingsUsage()
		return fmt.Errorf("unknown settings subcommand %q", args[0])
	}
}

func runSettingsShow(args []string) error {
	fs := flag.NewFlagSet("settings show", flag.ContinueOnError)
	configPath := fs.String("config", config.DefaultConfigPath, "settings file path")
	jsonOut := fs.Bool("json", false, "print JSON output")
	fs.SetOutput(flag.CommandLine.Output())
	if err := fs.Parse(args); err != nil {
		return err
	}

	path := config.NormalizeConfigPath(*configPath)
	s, err := config.Load(path)
	if err != nil {
		return err
	}
	if *jsonOut {
		return printJSON(map[string]any{
			"config_path": path,
			"settings":    s,
		})
	}
	fmt.Printf("config: %s\n", path)
	printSettings(s)
	return nil
}

func runSettingsSet(args []string) error {
	fs := flag.NewFlagSet("settings set", flag.ContinueOnError)
	configPath := fs.String("config", config.DefaultConfigPath, "settings file path")
	listen := fs.String("listen", "", "listen address host:port")
	downloadsDir := fs.String("downloads-dir", "", "directory that receives job output")
	urlPattern := fs.String("url-pattern", "", "regular expression accepted URLs must match")
	downloadLimit := fs.Float64("download-limit-mb-s", 0, "download limit in MB/s (0 disables)")
	proxy := fs.String("proxy", "", "proxy URL passed to yt-dlp (empty clears)")
	jsRuntime := fs.String("js-runtime", "", "js runtime: auto|deno|node|quickjs|bun")
	cookies := fs.String("cookies", "", "path to cookies.txt (empty clears)")
	browserCookies := fs.String("cookies-from-browser", "", "browser to read cookies from (empty clears)")
	playlistItems := fs.String("playlist-items", "", "playlist item range, for example 1-1000")
	audioCodec := fs.String("audio-codec", "", "audio codec for audio extraction")
	audioQuality := fs.String("audio-quality", "", "audio quality for audio extraction")
	grace := fs.Int("shutdown-grace-sec", 0, "seconds running jobs may finish after a shutdown signal")
	debug := fs.Bool("debug", false, "enable debug logging")
	jsonOut := fs.Bool("json", false, "print JSON output")
	fs.SetOutput(flag.CommandLine.Output())
	if err := fs.Parse(args); err != nil {
		return err
	}

	path := config.NormalizeConfigPath(*configPath)
	s, err := config.Load(path)
	if err != nil {
		return err
	}

	set := flagsSet(fs)
	if set["listen"] {
		s.Listen = strings.TrimSpace(*listen)
	}
	if set["downloads-dir"] {
		s.DownloadsDir = strings.TrimSpace(*downloadsDir)
	}
	if set["url-pattern"] {
		s.URLPattern = strings.TrimSpace(*urlPattern)
	}
	if set["download-limit-mb-s"] {
		if *downloadLimit < 0 {
			return errors.New("--download-limit-mb-s must be >= 0")
		}
		s.DownloadLimitMBps = *downloadLimit
	}
	if set["proxy"] {
		s.ProxyURL = *proxy
	}
	if set["js-runtime"] {
		if _, err := ytdlp.CheckJSRuntime(*jsRuntime); err != nil {
			return err
		}
		s.JSRuntime = *jsRuntime
	}
	if set["cookies"] {
		s.CookiesPath = *cookies
	}
	if set["cookies-from-browser"] {
		s.CookiesFromBrowser = *browserCookies
	}
	if set["playlist-items"] {
		s.PlaylistItems = *playlistItems
	}
	if set["audio-codec"] {
		s.AudioCodec = *audioCodec
	}
	if set["audio-quality"] {
		s.AudioQuality = *audioQuality
	}
	if set["shutdown-grace-sec"] {
		if *grace <= 0 {
			return errors.New("--shutdown-grace-sec must be >= 1")
		}
		s.ShutdownGraceSec = *grace
	}
	if set["debug"] {
		s.Debug = *debug
	}

	s = config.Normalize(s)
	if err := s.Validate(); err != nil {
		return err
	}
	if err := config.Save(path, s); err != nil {
		return err
	}
	if *jsonOut {
		return printJSON(map[string]any{
			"config_path": path,
			"settings":    s,
		})
	}
	fmt.Printf("updated settings in %s\n", path)
	printSettings(s)
	return nil
}

func printSettings(s config.Settings) {
	fmt.Printf("listen: %s\n", s.Listen)
	fmt.Printf("downloads_dir: %s\n", s.DownloadsDir)
	fmt.Printf("files_url_prefix: %s\n", s.FilesURLPrefix)
	fmt.Printf("url_pattern: %s\n", s.URLPattern)
	fmt.Printf("download_limit_mb_s: %s\n", formatFloat(s.DownloadLimitMBps))
	fmt.Printf("proxy: %s\n", valueOrNone(s.ProxyURL))
	fmt.Printf("js_runtime: %s\n", s.JSRuntime)
	fmt.Printf("cookies: %s\n", valueOrNone(s.CookiesPath))
	fmt.Printf("cookies_from_browser: %s\n", valueOrNone(s.CookiesFromBrowser))
	fmt.Printf("playlist_items: %s\n", s.PlaylistItems)
	fmt.Printf("audio: %s %s\n", s.AudioCodec, s.AudioQuality)
	fmt.Printf("retries: %d (fragments %d, extractor %d)\n", s.Retries, s.FragmentRetries, s.ExtractorRetries)
	fmt.Printf("shutdown_grace_sec: %d\n", s.ShutdownGraceSec)
	fmt.Printf("debug: %t\n", s.Debug)
}

func printSettingsUsage() {
	fmt.Println("settings commands:")
	fmt.Println("  settings show")
	fmt.Println("  settings set [--listen host:port] [--downloads-dir DIR] [--download-limit-mb-s N]")
	fmt.Println("               [--proxy URL] [--js-runtime auto|deno|node|quickjs|bun] [--cookies PATH]")
	fmt.Println("               [--playlist-items RANGE] [--audio-codec C] [--audio-quality Q]")
	fmt.Println("               [--shutdown-grace-sec N] [--debug]")
}

func valueOrNone(v string) string {
	if strings.TrimSpace(v) == "" {
		return "(none)"
	}
	return v
}

func formatFloat(v float64) string {
	if v == float64(int64(v)) {
		return strconv.FormatInt(int64(v), 10)
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}
