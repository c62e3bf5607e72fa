package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"yt-job-server/internal/runstore"
	"yt-job-server/internal/ytdlp"
)

const (
	SchemaVersion = 1

	DefaultConfigPath        = "yt-job-server.json"
	DefaultListen            = "0.0.0.0:5000"
	DefaultDownloadsDir      = "downloads"
	DefaultFilesURLPrefix    = "/downloads"
	DefaultURLPattern        = `^(https?://)?(((www|m|music)\.)?youtube\.com|youtu\.?be)/.+$`
	DefaultRetries           = 10
	DefaultSocketTimeoutSec  = 30
	DefaultPlaylistItems     = "1-1000"
	DefaultAudioCodec        = "mp3"
	DefaultAudioQuality      = "192K"
	DefaultShutdownGraceSec  = 30
	DefaultDownloadLimitMBps = 0
)

type Settings struct {
	SchemaVersion      int     `json:"schema_version"`
	UpdatedAt          string  `json:"updated_at,omitempty"`
	Listen             string  `json:"listen,omitempty"`
	DownloadsDir       string  `json:"downloads_dir,omitempty"`
	FilesURLPrefix     string  `json:"files_url_prefix,omitempty"`
	URLPattern         string  `json:"url_pattern,omitempty"`
	Retries            int     `json:"retries,omitempty"`
	FragmentRetries    int     `json:"fragment_retries,omitempty"`
	ExtractorRetries   int     `json:"extractor_retries,omitempty"`
	SocketTimeoutSec   int     `json:"socket_timeout_sec,omitempty"`
	PlaylistItems      string  `json:"playlist_items,omitempty"`
	AudioCodec         string  `json:"audio_codec,omitempty"`
	AudioQuality       string  `json:"audio_quality,omitempty"`
	JSRuntime          string  `json:"js_runtime,omitempty"`
	CookiesPath        string  `json:"cookies_path,omitempty"`
	CookiesFromBrowser string  `json:"cookies_from_browser,omitempty"`
	ProxyURL           string  `json:"proxy_url,omitempty"`
	DownloadLimitMBps  float64 `json:"download_limit_mb_s,omitempty"`
	ShutdownGraceSec   int     `json:"shutdown_grace_sec,omitempty"`
	Debug              bool    `json:"debug,omitempty"`
}

func Defaults() Settings {
	return Settings{
		SchemaVersion:     SchemaVersion,
		Listen:            DefaultListen,
		DownloadsDir:      DefaultDownloadsDir,
		FilesURLPrefix:    DefaultFilesURLPrefix,
		URLPattern:        DefaultURLPattern,
		Retries:           DefaultRetries,
		FragmentRetries:   DefaultRetries,
		ExtractorRetries:  DefaultRetries,
		SocketTimeoutSec:  DefaultSocketTimeoutSec,
		PlaylistItems:     DefaultPlaylistItems,
		AudioCodec:        DefaultAudioCodec,
		AudioQuality:      DefaultAudioQuality,
		JSRuntime:         "auto",
		DownloadLimitMBps: DefaultDownloadLimitMBps,
		ShutdownGraceSec:  DefaultShutdownGraceSec,
	}
}

// Normalize fills every unset or invalid field with its default.
func Normalize(raw Settings) Settings {
	def := Defaults()
	norm := raw
	norm.SchemaVersion = SchemaVersion
	norm.Listen = firstNonEmpty(norm.Listen, def.Listen)
	norm.DownloadsDir = firstNonEmpty(norm.DownloadsDir, def.DownloadsDir)
	norm.FilesURLPrefix = "/" + strings.Trim(firstNonEmpty(norm.FilesURLPrefix, def.FilesURLPrefix), "/")
	norm.URLPattern = firstNonEmpty(norm.URLPattern, def.URLPattern)
	norm.Retries = firstPositive(norm.Retries, def.Retries)
	norm.FragmentRetries = firstPositive(norm.FragmentRetries, def.FragmentRetries)
	norm.ExtractorRetries = firstPositive(norm.ExtractorRetries, def.ExtractorRetries)
	norm.SocketTimeoutSec = firstPositive(norm.SocketTimeoutSec, def.SocketTimeoutSec)
	norm.PlaylistItems = firstNonEmpty(norm.PlaylistItems, def.PlaylistItems)
	norm.AudioCodec = strings.ToLower(firstNonEmpty(norm.AudioCodec, def.AudioCodec))
	norm.AudioQuality = firstNonEmpty(norm.AudioQuality, def.AudioQuality)
	norm.JSRuntime = strings.ToLower(firstNonEmpty(norm.JSRuntime, def.JSRuntime))
	norm.CookiesPath = strings.TrimSpace(norm.CookiesPath)
	norm.CookiesFromBrowser = strings.TrimSpace(norm.CookiesFromBrowser)
	norm.ProxyURL = strings.TrimSpace(norm.ProxyURL)
	if norm.DownloadLimitMBps < 0 {
		norm.DownloadLimitMBps = def.DownloadLimitMBps
	}
	norm.ShutdownGraceSec = firstPositive(norm.ShutdownGraceSec, def.ShutdownGraceSec)
	return norm
}

func (s Settings) Validate() error {
	if _, err := regexp.Compile(s.URLPattern); err != nil {
		return fmt.Errorf("invalid url_pattern: %w", err)
	}
	if _, _, err := net.SplitHostPort(s.Listen); err != nil {
		return fmt.Errorf("invalid listen address %q: %w", s.Listen, err)
	}
	return nil
}

func NormalizeConfigPath(path string) string {
	return firstNonEmpty(path, DefaultConfigPath)
}

// Load reads settings from path. A missing file yields defaults.
func Load(path string) (Settings, error) {
	var raw Settings
	if err := runstore.ReadJSON(NormalizeConfigPath(path), &raw); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Defaults(), nil
		}
		return Settings{}, err
	}
	return Normalize(raw), nil
}

func Save(path string, s Settings) error {
	s = Normalize(s)
	s.UpdatedAt = time.Now().UTC().Format(time.RFC3339)
	return runstore.WriteJSON(NormalizeConfigPath(path), s)
}

// Ensure writes default settings when path does not exist yet.
func Ensure(path string) (Settings, bool, error) {
	path = NormalizeConfigPath(path)
	if _, err := os.Stat(path); err == nil {
		s, err := Load(path)
		return s, false, err
	} else if !errors.Is(err, os.ErrNotExist) {
		return Settings{}, false, fmt.Errorf("stat %s: %w", path, err)
	}
	s := Defaults()
	if err := Save(path, s); err != nil {
		return Settings{}, false, err
	}
	return s, true, nil
}

// ApplyEnv applies PORT and DEBUG overrides.
func ApplyEnv(s Settings, getenv func(string) string) (Settings, error) {
	if getenv == nil {
		getenv = os.Getenv
	}
	if port := strings.TrimSpace(getenv("PORT")); port != "" {
		n, err := strconv.Atoi(port)
		if err != nil || n <= 0 || n > 65535 {
			return Settings{}, fmt.Errorf("invalid PORT %q", port)
		}
		host, _, err := net.SplitHostPort(s.Listen)
		if err != nil {
			host = ""
		}
		s.Listen = net.JoinHostPort(host, port)
	}
	if debug := strings.TrimSpace(getenv("DEBUG")); debug != "" {
		v, err := strconv.ParseBool(debug)
		if err != nil {
			return Settings{}, fmt.Errorf("invalid DEBUG %q", debug)
		}
		s.Debug = v
	}
	return s, nil
}

func (s Settings) EngineOptions() ytdlp.Options {
	return ytdlp.Options{
		CookiesPath:        s.CookiesPath,
		CookiesFromBrowser: s.CookiesFromBrowser,
		ProxyURL:           s.ProxyURL,
		JSRuntime:          s.JSRuntime,
		DownloadLimitMBps:  s.DownloadLimitMBps,
		Retries:            s.Retries,
		FragmentRetries:    s.FragmentRetries,
		ExtractorRetries:   s.ExtractorRetries,
		SocketTimeoutSec:   s.SocketTimeoutSec,
		PlaylistItems:      s.PlaylistItems,
		AudioCodec:         s.AudioCodec,
		AudioQuality:       s.AudioQuality,
	}
}

func (s Settings) ShutdownGrace() time.Duration {
	return time.Duration(s.ShutdownGraceSec) * time.Second
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if t := strings.TrimSpace(v); t != "" {
			return t
		}
	}
	return ""
}

func firstPositive(values ...int) int {
	for _, v := range values {
		if v > 0 {
			return v
		}
	}
	return 0
}
