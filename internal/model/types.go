package model

import "time"

type RequestType string

const (
	RequestSingle   RequestType = "single"
	RequestPlaylist RequestType = "playlist"
)

type MediaFormat string

const (
	MediaVideo MediaFormat = "video"
	MediaAudio MediaFormat = "audio"
)

// Request is what a caller submits to start a job.
type Request struct {
	URL           string      `json:"url"`
	Type          RequestType `json:"type"`
	Format        MediaFormat `json:"format,omitempty"`
	VideoFormatID string      `json:"video_format_id,omitempty"`
	AudioFormatID string      `json:"audio_format_id,omitempty"`
}

type PartStatus string

const (
	PartPending     PartStatus = "pending"
	PartDownloading PartStatus = "downloading"
	PartFinished    PartStatus = "finished"
	PartError       PartStatus = "error"
)

// PartState tracks byte progress of one fragment or stream within a job.
type PartState struct {
	Key             string
	Filename        string
	TotalBytes      int64
	DownloadedBytes int64
	Status          PartStatus
	LastUpdate      time.Time
	LastBytes       int64
}

// PostprocessingFlags are the stages that run after parts are downloaded.
type PostprocessingFlags struct {
	Merging         bool
	Encoding        bool
	ExtractingAudio bool
}

func (f PostprocessingFlags) Any() bool {
	return f.Merging || f.Encoding || f.ExtractingAudio
}

// Job is the mutable record of one request. Only its runner writes to it.
type Job struct {
	ID             string
	Status         Status
	Request        Request
	Title          string
	TotalUnits     int
	CompletedUnits int

	Parts     map[string]*PartState
	PartOrder []string

	SpeedSamples   []float64
	SpeedEstimate  float64
	ETASeconds     float64
	ElapsedSeconds float64

	Stage           string
	CurrentProgress int
	CurrentVideo    string
	Flags           PostprocessingFlags

	// ExpectedParts is the number of streams fetched per unit before a merge.
	ExpectedParts int

	FinalFiles []Artifact
	Errors     []string
	CreatedAt  time.Time
	OutputDir  string
}

func NewJob(id string, req Request, now time.Time) *Job {
	return &Job{
		ID:        id,
		Status:    StatusStarting,
		Request:   req,
		Parts:     make(map[string]*PartState),
		Stage:     "starting",
		CreatedAt: now,
		Errors:    []string{},
	}
}

// Artifact is one produced output file.
type Artifact struct {
	Name string `json:"name"`
	Size int64  `json:"size"`
	URL  string `json:"url"`
}

// JobStatus is the published, read-only view of a job.
type JobStatus struct {
	ID              string     `json:"id"`
	Title           string     `json:"title"`
	Status          Status     `json:"status"`
	Stage           string     `json:"stage"`
	CurrentProgress int        `json:"current_progress"`
	TotalBytes      int64      `json:"total_bytes"`
	DownloadedBytes int64      `json:"downloaded_bytes"`
	SpeedEstimate   float64    `json:"speed_estimate"`
	ETASeconds      float64    `json:"eta_seconds"`
	ElapsedSeconds  float64    `json:"elapsed_seconds"`
	CurrentVideo    string     `json:"current_video"`
	TotalUnits      int        `json:"total_units"`
	CompletedUnits  int        `json:"completed_units"`
	Errors          []string   `json:"errors"`
	Files           []Artifact `json:"files"`
}

// Clone returns a copy that shares no slices with s.
func (s JobStatus) Clone() JobStatus {
	out := s
	out.Errors = append([]string{}, s.Errors...)
	out.Files = append([]Artifact{}, s.Files...)
	return out
}

type ProbeResult struct {
	Title      string `json:"title"`
	TotalUnits int    `json:"total_units"`
}

// Format describes one downloadable stream reported by the fetch engine.
type Format struct {
	FormatID       string  `json:"format_id"`
	Ext            string  `json:"ext"`
	Resolution     string  `json:"resolution,omitempty"`
	FPS            float64 `json:"fps,omitempty"`
	FilesizeApprox int64   `json:"filesize_approx,omitempty"`
	VCodec         string  `json:"vcodec,omitempty"`
	ACodec         string  `json:"acodec,omitempty"`
	ABR            float64 `json:"abr,omitempty"`
}

type FormatList struct {
	Title   string   `json:"title"`
	Formats []Format `json:"formats"`
}

// FetchRequest is the resolved download target handed to the fetch engine.
type FetchRequest struct {
	URL          string
	OutputDir    string
	Selector     string
	Playlist     bool
	ExtractAudio bool
}
