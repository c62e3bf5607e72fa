package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	logging "github.com/ipfs/go-log/v2"

	"yt-job-server/internal/jobs"
	"yt-job-server/internal/model"
)

var log = logging.Logger("api")

const (
	formatsTimeout  = 2 * time.Minute
	maxRequestBytes = int64(64 << 10)
)

func init() {
	gin.SetMode(gin.ReleaseMode)
}

// JobService is the job surface the HTTP layer drives.
type JobService interface {
	Submit(req model.Request) (string, error)
	Status(id string) (model.JobStatus, error)
	List() []model.JobStatus
	Artifacts(id string) ([]model.Artifact, error)
	ArtifactPath(id, name string) (string, error)
	Cancel(id string) error
}

// FormatLister lists the streams available for a URL.
type FormatLister interface {
	Formats(ctx context.Context, url string) (model.FormatList, error)
}

// Config defines the server configuration.
type Config struct {
	Addr           string
	URLPattern     string
	FilesURLPrefix string
}

// Server serves the job API and produced files.
type Server struct {
	jobs        JobService
	formats     FormatLister
	urlPattern  *regexp.Regexp
	filesPrefix string
	server      *http.Server
}

func NewServer(conf Config, svc JobService, formats FormatLister) (*Server, error) {
	s := &Server{
		jobs:        svc,
		formats:     formats,
		filesPrefix: "/" + strings.Trim(conf.FilesURLPrefix, "/"),
	}
	if s.filesPrefix == "/" {
		s.filesPrefix = "/downloads"
	}
	if p := strings.TrimSpace(conf.URLPattern); p != "" {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("compile url pattern: %w", err)
		}
		s.urlPattern = re
	}
	s.server = &http.Server{
		Addr:              conf.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s, nil
}

// Handler returns the gin router with every route registered.
func (s *Server) Handler() http.Handler {
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger())

	router.GET("/health", func(c *gin.Context) {
		c.Writer.WriteHeader(http.StatusNoContent)
	})

	api := router.Group("/api")
	api.POST("/download", s.submitHandler)
	api.GET("/status/:id", s.statusHandler)
	api.GET("/downloads/:id", s.artifactsHandler)
	api.POST("/video_info", s.formatsHandler)
	api.GET("/jobs", s.listHandler)
	api.DELETE("/jobs/:id", s.cancelHandler)

	router.GET(path.Join(s.filesPrefix, ":id", ":filename"), s.fileHandler)

	router.NoRoute(func(c *gin.Context) {
		renderError(c, http.StatusNotFound, errors.New("not found"))
	})
	return router
}

// Serve accepts connections on l until Shutdown is called.
func (s *Server) Serve(l net.Listener) error {
	log.Infow("http server listening", "addr", l.Addr().String())
	if err := s.server.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Addr() string {
	return s.server.Addr
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

type submitResponse struct {
	DownloadID string `json:"download_id"`
}

type artifactsResponse struct {
	Files  []model.Artifact `json:"files"`
	Status model.Status     `json:"status"`
}

type urlRequest struct {
	URL string `json:"url"`
}

func (s *Server) submitHandler(c *gin.Context) {
	var req model.Request
	if !s.bindJSON(c, &req) {
		return
	}
	if err := s.checkURL(req.URL); err != nil {
		renderError(c, http.StatusBadRequest, err)
		return
	}
	id, err := s.jobs.Submit(req)
	if err != nil {
		switch {
		case errors.Is(err, jobs.ErrInvalidRequest):
			renderError(c, http.StatusBadRequest, err)
		case errors.Is(err, jobs.ErrShuttingDown):
			renderError(c, http.StatusServiceUnavailable, err)
		default:
			log.Errorw("submit failed", "url", req.URL, "err", err)
			renderError(c, http.StatusInternalServerError, err)
		}
		return
	}
	log.Infow("job submitted", "id", id, "url", req.URL, "type", req.Type, "format", req.Format)
	c.JSON(http.StatusOK, submitResponse{DownloadID: id})
}

func (s *Server) statusHandler(c *gin.Context) {
	status, err := s.jobs.Status(c.Param("id"))
	if err != nil {
		renderLookupError(c, err)
		return
	}
	c.JSON(http.StatusOK, status)
}

func (s *Server) listHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"jobs": s.jobs.List()})
}

func (s *Server) artifactsHandler(c *gin.Context) {
	id := c.Param("id")
	status, err := s.jobs.Status(id)
	if err != nil {
		renderLookupError(c, err)
		return
	}
	files, err := s.jobs.Artifacts(id)
	if err != nil {
		renderLookupError(c, err)
		return
	}
	c.JSON(http.StatusOK, artifactsResponse{Files: files, Status: status.Status})
}

func (s *Server) fileHandler(c *gin.Context) {
	p, err := s.jobs.ArtifactPath(c.Param("id"), c.Param("filename"))
	if err != nil {
		renderLookupError(c, err)
		return
	}
	c.FileAttachment(p, c.Param("filename"))
}

func (s *Server) cancelHandler(c *gin.Context) {
	id := c.Param("id")
	if err := s.jobs.Cancel(id); err != nil {
		if errors.Is(err, jobs.ErrJobFinished) {
			renderError(c, http.StatusConflict, err)
			return
		}
		renderLookupError(c, err)
		return
	}
	log.Infow("job cancel requested", "id", id)
	c.Status(http.StatusAccepted)
}

func (s *Server) formatsHandler(c *gin.Context) {
	if s.formats == nil {
		renderError(c, http.StatusNotImplemented, errors.New("format listing is not available"))
		return
	}
	var req urlRequest
	if !s.bindJSON(c, &req) {
		return
	}
	if err := s.checkURL(req.URL); err != nil {
		renderError(c, http.StatusBadRequest, err)
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), formatsTimeout)
	defer cancel()
	list, err := s.formats.Formats(ctx, strings.TrimSpace(req.URL))
	if err != nil {
		log.Warnw("format listing failed", "url", req.URL, "err", err)
		renderError(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

func (s *Server) bindJSON(c *gin.Context, v any) bool {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxRequestBytes)
	if err := c.ShouldBindJSON(v); err != nil {
		renderError(c, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return false
	}
	return true
}

// checkURL applies the configured host allow pattern. Scheme and shape are
// validated again when the request is normalized.
func (s *Server) checkURL(raw string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return errors.New("url is required")
	}
	if s.urlPattern != nil && !s.urlPattern.MatchString(raw) {
		return fmt.Errorf("unsupported url: %s", raw)
	}
	return nil
}

func renderLookupError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, jobs.ErrJobNotFound), errors.Is(err, jobs.ErrArtifactNotFound):
		renderError(c, http.StatusNotFound, err)
	default:
		renderError(c, http.StatusInternalServerError, err)
	}
}

func renderError(c *gin.Context, code int, err error) {
	c.AbortWithStatusJSON(code, gin.H{"error": err.Error()})
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Debugw("http request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		)
	}
}
