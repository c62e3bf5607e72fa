package jobs

import (
	"time"

	"yt-job-server/internal/model"
)

const speedWindowSize = 5

// instantSpeed returns the throughput of one part between its previous sample
// and a new one. ok is false when no time elapsed or no bytes were added.
func instantSpeed(part *model.PartState, at time.Time, bytes int64) (float64, bool) {
	if part.LastUpdate.IsZero() {
		return 0, false
	}
	dt := at.Sub(part.LastUpdate).Seconds()
	if dt <= 0 || bytes <= part.LastBytes {
		return 0, false
	}
	return float64(bytes-part.LastBytes) / dt, true
}

func pushSpeedSample(window []float64, v float64) []float64 {
	window = append(window, v)
	if len(window) > speedWindowSize {
		window = window[len(window)-speedWindowSize:]
	}
	return window
}

func meanSpeed(window []float64) float64 {
	if len(window) == 0 {
		return 0
	}
	var sum float64
	for _, v := range window {
		sum += v
	}
	return sum / float64(len(window))
}

// updateSpeed folds a new sample into the job window. Without a sample the
// last estimate is kept, and only an empty window falls back to the engine hint.
func updateSpeed(job *model.Job, sample float64, ok bool, hint float64) {
	if ok {
		job.SpeedSamples = pushSpeedSample(job.SpeedSamples, sample)
		job.SpeedEstimate = meanSpeed(job.SpeedSamples)
		return
	}
	if len(job.SpeedSamples) > 0 {
		return
	}
	if hint > 0 {
		job.SpeedEstimate = hint
	}
}

func estimateETA(total, downloaded int64, speed, hint float64) float64 {
	remaining := total - downloaded
	if speed > 0 && remaining > 0 {
		return float64(remaining) / speed
	}
	if hint > 0 {
		return hint
	}
	return 0
}
