package model

import (
	"testing"
	"time"
)

func TestCanTransition_AllowsExpectedPaths(t *testing.T) {
	cases := []struct {
		from Status
		to   Status
	}{
		{"", StatusStarting},
		{StatusStarting, StatusDownloading},
		{StatusStarting, StatusError},
		{StatusDownloading, StatusMerging},
		{StatusMerging, StatusEncoding},
		{StatusExtractingAudio, StatusDownloading},
		{StatusMerging, StatusCompleted},
		{StatusDownloading, StatusPartial},
	}

	for _, tc := range cases {
		if !CanTransition(tc.from, tc.to) {
			t.Fatalf("expected transition %q -> %q to be allowed", tc.from, tc.to)
		}
	}
}

func TestCanTransition_RejectsInvalidPaths(t *testing.T) {
	cases := []struct {
		from Status
		to   Status
	}{
		{StatusStarting, StatusMerging},
		{StatusCompleted, StatusDownloading},
		{StatusPartial, StatusCompleted},
		{StatusError, StatusError},
		{StatusDownloading, StatusStarting},
		{"not_a_state", StatusStarting},
	}

	for _, tc := range cases {
		if CanTransition(tc.from, tc.to) {
			t.Fatalf("expected transition %q -> %q to be rejected", tc.from, tc.to)
		}
	}
}

func TestTransitionStatus_BlocksRegressionFromTerminal(t *testing.T) {
	job := NewJob("job-1", Request{URL: "https://example.com/v"}, time.Now())
	if err := TransitionStatus(job, StatusError); err != nil {
		t.Fatalf("starting -> error: %v", err)
	}
	if err := TransitionStatus(job, StatusDownloading); err == nil {
		t.Fatalf("expected illegal transition error")
	}
	if job.Status != StatusError {
		t.Fatalf("status changed after rejected transition: %s", job.Status)
	}
}

func TestStatusPredicates(t *testing.T) {
	for _, s := range []Status{StatusCompleted, StatusPartial, StatusError} {
		if !s.IsTerminal() {
			t.Fatalf("expected %s to be terminal", s)
		}
	}
	for _, s := range []Status{StatusStarting, StatusDownloading, StatusMerging} {
		if s.IsTerminal() {
			t.Fatalf("expected %s to be non-terminal", s)
		}
	}
	if !StatusExtractingAudio.IsPostprocessing() || StatusDownloading.IsPostprocessing() {
		t.Fatalf("unexpected postprocessing classification")
	}
}

func TestJobStatusCloneDoesNotAlias(t *testing.T) {
	s := JobStatus{Errors: []string{"a"}, Files: []Artifact{{Name: "x.mp4"}}}
	c := s.Clone()
	c.Errors[0] = "b"
	c.Files[0].Name = "y.mp4"
	if s.Errors[0] != "a" || s.Files[0].Name != "x.mp4" {
		t.Fatalf("clone shares backing arrays with original")
	}
}
