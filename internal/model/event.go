package model

import "time"

type EventKind string

const (
	EventDownloading           EventKind = "downloading"
	EventFinished              EventKind = "finished"
	EventError                 EventKind = "error"
	EventPostprocessorStarted  EventKind = "postprocessor_started"
	EventPostprocessorFinished EventKind = "postprocessor_finished"
)

// Postprocessor names as reported by the fetch engine.
const (
	PostprocessorMerger       = "Merger"
	PostprocessorExtractAudio = "ExtractAudio"
	PostprocessorConvertor    = "VideoConvertor"
	PostprocessorRemuxer      = "VideoRemuxer"
)

// Event is one progress notification from the fetch engine. Fields that do not
// apply to Kind are left zero. TotalBytes, SpeedHint and ETAHint are zero when
// unknown.
type Event struct {
	Kind            EventKind
	PartKey         string
	Filename        string
	DownloadedBytes int64
	TotalBytes      int64
	SpeedHint       float64
	ETAHint         float64
	Message         string
	Postprocessor   string
	At              time.Time
}
