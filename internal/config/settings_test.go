package config

import (
	"os"
	"path/filepath"
	"regexp"
	"testing"
	"time"
)

func TestLoad_MissingFileReturnsDefaults(t *testing.T) {
	s, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if s.Listen != DefaultListen || s.DownloadsDir != DefaultDownloadsDir || s.ShutdownGraceSec != DefaultShutdownGraceSec {
		t.Fatalf("unexpected defaults: %+v", s)
	}
}

func TestSaveLoadNormalizes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg.json")
	if err := Save(path, Settings{DownloadsDir: " media ", FilesURLPrefix: "files/", AudioCodec: "OPUS", Retries: -3}); err != nil {
		t.Fatalf("save: %v", err)
	}
	s, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if s.DownloadsDir != "media" || s.FilesURLPrefix != "/files" || s.AudioCodec != "opus" {
		t.Fatalf("unexpected normalized settings: %+v", s)
	}
	if s.Retries != DefaultRetries || s.UpdatedAt == "" {
		t.Fatalf("expected defaults and timestamp: %+v", s)
	}
}

func TestLoad_RejectsInvalidJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg.json")
	if err := os.WriteFile(path, []byte("{"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatalf("expected invalid json to fail")
	}
}

func TestEnsure_CreatesOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg.json")
	_, created, err := Ensure(path)
	if err != nil || !created {
		t.Fatalf("first ensure: created=%v err=%v", created, err)
	}
	_, created, err = Ensure(path)
	if err != nil || created {
		t.Fatalf("second ensure: created=%v err=%v", created, err)
	}
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{"PORT": "8080", "DEBUG": "True"}
	s, err := ApplyEnv(Defaults(), func(k string) string { return env[k] })
	if err != nil {
		t.Fatalf("apply env: %v", err)
	}
	if s.Listen != "0.0.0.0:8080" || !s.Debug {
		t.Fatalf("unexpected settings: listen=%q debug=%v", s.Listen, s.Debug)
	}

	if _, err := ApplyEnv(Defaults(), func(k string) string {
		if k == "PORT" {
			return "http"
		}
		return ""
	}); err == nil {
		t.Fatalf("expected invalid PORT to fail")
	}

	s, err = ApplyEnv(Defaults(), func(string) string { return "" })
	if err != nil || s.Listen != DefaultListen || s.Debug {
		t.Fatalf("empty env must not change settings: %+v err=%v", s, err)
	}
}

func TestValidate(t *testing.T) {
	s := Defaults()
	if err := s.Validate(); err != nil {
		t.Fatalf("defaults must validate: %v", err)
	}
	s.URLPattern = "("
	if err := s.Validate(); err == nil {
		t.Fatalf("expected bad pattern to fail")
	}
	s = Defaults()
	s.Listen = "5000"
	if err := s.Validate(); err == nil {
		t.Fatalf("expected bad listen address to fail")
	}
}

func TestDefaultURLPattern(t *testing.T) {
	re := regexp.MustCompile(DefaultURLPattern)
	for _, ok := range []string{
		"https://www.youtube.com/watch?v=abc",
		"http://youtu.be/abc",
		"youtube.com/playlist?list=x",
		"https://music.youtube.com/watch?v=abc",
	} {
		if !re.MatchString(ok) {
			t.Fatalf("expected %q to match", ok)
		}
	}
	for _, bad := range []string{"https://vimeo.com/1", "https://www.youtube.com/", "ftp://youtu.be/x"} {
		if re.MatchString(bad) {
			t.Fatalf("expected %q not to match", bad)
		}
	}
}

func TestEngineOptionsAndGrace(t *testing.T) {
	s := Normalize(Settings{ProxyURL: " http://p:1 ", DownloadLimitMBps: 3, ShutdownGraceSec: 5})
	opts := s.EngineOptions()
	if opts.ProxyURL != "http://p:1" || opts.DownloadLimitMBps != 3 || opts.PlaylistItems != DefaultPlaylistItems {
		t.Fatalf("unexpected engine options: %+v", opts)
	}
	if s.ShutdownGrace() != 5*time.Second {
		t.Fatalf("unexpected grace: %v", s.ShutdownGrace())
	}
}
