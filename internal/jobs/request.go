package jobs

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"yt-job-server/internal/model"
)

const (
	defaultDownloadsDir   = "downloads"
	defaultFilesURLPrefix = "/downloads"

	selectorMergedBest = "bestvideo*+bestaudio/best"
	selectorAudioBest  = "bestaudio/best"
	selectorBest       = "best"
)

// ErrInvalidRequest wraps every validation failure of a submitted request.
var ErrInvalidRequest = errors.New("invalid request")

type Options struct {
	DownloadsDir   string
	FilesURLPrefix string
	Now            func() time.Time
}

func (o Options) withDefaults() Options {
	if strings.TrimSpace(o.DownloadsDir) == "" {
		o.DownloadsDir = defaultDownloadsDir
	}
	if strings.TrimSpace(o.FilesURLPrefix) == "" {
		o.FilesURLPrefix = defaultFilesURLPrefix
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// NormalizeRequest trims and defaults req, rejecting values the runner cannot
// act on.
func NormalizeRequest(req model.Request) (model.Request, error) {
	req.URL = strings.TrimSpace(req.URL)
	req.VideoFormatID = strings.TrimSpace(req.VideoFormatID)
	req.AudioFormatID = strings.TrimSpace(req.AudioFormatID)

	if req.URL == "" {
		return model.Request{}, fmt.Errorf("%w: url is required", ErrInvalidRequest)
	}
	u, err := url.Parse(req.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return model.Request{}, fmt.Errorf("%w: invalid url %q", ErrInvalidRequest, req.URL)
	}

	switch model.RequestType(strings.ToLower(strings.TrimSpace(string(req.Type)))) {
	case "", model.RequestSingle:
		req.Type = model.RequestSingle
	case model.RequestPlaylist:
		req.Type = model.RequestPlaylist
	default:
		return model.Request{}, fmt.Errorf("%w: invalid type %q (expected single or playlist)", ErrInvalidRequest, req.Type)
	}

	switch model.MediaFormat(strings.ToLower(strings.TrimSpace(string(req.Format)))) {
	case "", model.MediaVideo:
		req.Format = model.MediaVideo
	case model.MediaAudio:
		req.Format = model.MediaAudio
	default:
		return model.Request{}, fmt.Errorf("%w: invalid format %q (expected video or audio)", ErrInvalidRequest, req.Format)
	}
	return req, nil
}

// BuildFetchRequest resolves the format selector for req.
func BuildFetchRequest(req model.Request, outputDir string) model.FetchRequest {
	out := model.FetchRequest{
		URL:       req.URL,
		OutputDir: outputDir,
		Playlist:  req.Type == model.RequestPlaylist,
	}
	switch {
	case out.Playlist && req.Format == model.MediaAudio:
		out.Selector = selectorAudioBest
		out.ExtractAudio = true
	case out.Playlist:
		out.Selector = selectorBest
	case req.VideoFormatID != "" && req.AudioFormatID != "":
		out.Selector = req.VideoFormatID + "+" + req.AudioFormatID
	default:
		out.Selector = selectorMergedBest
	}
	return out
}

// expectedParts counts the streams the preferred alternative of selector
// downloads for each unit.
func expectedParts(selector string) int {
	preferred, _, _ := strings.Cut(selector, "/")
	preferred = strings.TrimSpace(preferred)
	if preferred == "" {
		return 1
	}
	return strings.Count(preferred, "+") + 1
}
