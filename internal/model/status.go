package model

import "fmt"

type Status string

const (
	StatusStarting        Status = "starting"
	StatusDownloading     Status = "downloading"
	StatusMerging         Status = "merging"
	StatusEncoding        Status = "encoding"
	StatusExtractingAudio Status = "extracting_audio"
	StatusCompleted       Status = "completed"
	StatusPartial         Status = "partial"
	StatusError           Status = "error"
)

var postprocessing = map[Status]bool{
	StatusMerging:         true,
	StatusEncoding:        true,
	StatusExtractingAudio: true,
}

var terminal = map[Status]bool{
	StatusCompleted: true,
	StatusPartial:   true,
	StatusError:     true,
}

var allowedTransitions = map[Status]map[Status]bool{
	"": {
		StatusStarting: true,
	},
	StatusStarting: {
		StatusStarting:    true,
		StatusDownloading: true,
		StatusCompleted:   true,
		StatusPartial:     true,
		StatusError:       true,
	},
	StatusDownloading: {
		StatusDownloading:     true,
		StatusMerging:         true,
		StatusEncoding:        true,
		StatusExtractingAudio: true,
		StatusCompleted:       true,
		StatusPartial:         true,
		StatusError:           true,
	},
	StatusMerging: {
		StatusMerging:         true,
		StatusEncoding:        true,
		StatusExtractingAudio: true,
		StatusDownloading:     true, // next unit of a playlist
		StatusCompleted:       true,
		StatusPartial:         true,
		StatusError:           true,
	},
	StatusEncoding: {
		StatusEncoding:        true,
		StatusMerging:         true,
		StatusExtractingAudio: true,
		StatusDownloading:     true,
		StatusCompleted:       true,
		StatusPartial:         true,
		StatusError:           true,
	},
	StatusExtractingAudio: {
		StatusExtractingAudio: true,
		StatusMerging:         true,
		StatusEncoding:        true,
		StatusDownloading:     true,
		StatusCompleted:       true,
		StatusPartial:         true,
		StatusError:           true,
	},
	StatusCompleted: {},
	StatusPartial:   {},
	StatusError:     {},
}

func (s Status) String() string {
	return string(s)
}

// IsTerminal reports whether no further transitions can happen from s.
func (s Status) IsTerminal() bool {
	return terminal[s]
}

// IsPostprocessing reports whether s is one of the merge/encode/extract stages.
func (s Status) IsPostprocessing() bool {
	return postprocessing[s]
}

func IsKnownStatus(status Status) bool {
	_, ok := allowedTransitions[status]
	return ok
}

func CanTransition(from, to Status) bool {
	next, ok := allowedTransitions[from]
	if !ok {
		return false
	}
	return next[to]
}

func TransitionStatus(job *Job, to Status) error {
	from := job.Status
	if !CanTransition(from, to) {
		return fmt.Errorf("invalid job status transition: %q -> %q (job_id=%s)", from, to, job.ID)
	}
	job.Status = to
	return nil
}
