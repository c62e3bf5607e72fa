package jobs

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"yt-job-server/internal/model"
)

var ErrArtifactNotFound = errors.New("artifact not found")

// Service is the surface the HTTP and CLI layers use.
type Service struct {
	registry   *Registry
	dispatcher *Dispatcher
	opts       Options
}

func NewService(engine Engine, opts Options) *Service {
	opts = opts.withDefaults()
	registry := NewRegistry()
	runner := NewRunner(engine, registry, opts)
	return &Service{
		registry:   registry,
		dispatcher: NewDispatcher(registry, runner, opts),
		opts:       opts,
	}
}

func (s *Service) Submit(req model.Request) (string, error) {
	return s.dispatcher.Submit(req)
}

func (s *Service) Status(id string) (model.JobStatus, error) {
	return s.registry.Get(id)
}

func (s *Service) List() []model.JobStatus {
	return s.registry.List()
}

// Artifacts returns the final files of a finished job, or the files produced
// so far while it is still running.
func (s *Service) Artifacts(id string) ([]model.Artifact, error) {
	status, err := s.registry.Get(id)
	if err != nil {
		return nil, err
	}
	if status.Status.IsTerminal() {
		return status.Files, nil
	}
	return ScanArtifacts(s.jobDir(id), path.Join(s.opts.FilesURLPrefix, id))
}

// ArtifactPath resolves a downloadable file of job id. Only base names of
// final artifacts are accepted.
func (s *Service) ArtifactPath(id, name string) (string, error) {
	if _, err := s.registry.Get(id); err != nil {
		return "", err
	}
	if name == "" || name != filepath.Base(name) || strings.ContainsAny(name, `/\`) || !IsFinalArtifact(name) {
		return "", fmt.Errorf("%s: %w", name, ErrArtifactNotFound)
	}
	p := filepath.Join(s.jobDir(id), name)
	info, err := os.Stat(p)
	if err != nil || !info.Mode().IsRegular() {
		return "", fmt.Errorf("%s: %w", name, ErrArtifactNotFound)
	}
	return p, nil
}

func (s *Service) Cancel(id string) error {
	return s.dispatcher.Cancel(id)
}

func (s *Service) Active() int {
	return s.dispatcher.Active()
}

func (s *Service) Shutdown(ctx context.Context) error {
	return s.dispatcher.Shutdown(ctx)
}

func (s *Service) jobDir(id string) string {
	return filepath.Join(s.opts.DownloadsDir, id)
}
