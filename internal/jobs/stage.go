package jobs

import (
	"regexp"
	"strings"

	"yt-job-server/internal/model"
)

const (
	stageStarting        = "starting"
	stageDownloading     = "downloading"
	stageMerging         = "merging"
	stageEncoding        = "encoding"
	stageExtractingAudio = "extracting audio"
	stageComplete        = "processing complete"
	stageDone            = "done"
	stageDoneWithErrors  = "done with errors"
	stageFailed          = "failed"

	mergePartKey = "merge"
)

// yt-dlp writes the merged container to "<name>.temp.<ext>" before renaming.
var mergeTempPattern = regexp.MustCompile(`(?i)\.temp\.[a-z0-9]+$`)

type stageInput struct {
	Kind          model.EventKind
	PartKey       string
	Filename      string
	Postprocessor string
	Current       string
	Flags         model.PostprocessingFlags

	KnownParts    int
	FinishedParts int
	ExpectedParts int
}

type stageDecision struct {
	Label string
	Flags model.PostprocessingFlags
}

func (in stageInput) allPartsFinished() bool {
	if in.KnownParts == 0 || in.FinishedParts < in.KnownParts {
		return false
	}
	return in.KnownParts >= max(in.ExpectedParts, 1)
}

func classifyStage(in stageInput) stageDecision {
	flags := in.Flags

	switch in.Kind {
	case model.EventPostprocessorStarted:
		if setPostprocessorFlag(&flags, in.Postprocessor, true) {
			return stageDecision{Label: flagLabel(flags), Flags: flags}
		}
	case model.EventPostprocessorFinished:
		if setPostprocessorFlag(&flags, in.Postprocessor, false) {
			if !flags.Any() {
				return stageDecision{Label: stageComplete, Flags: flags}
			}
			return stageDecision{Label: flagLabel(flags), Flags: flags}
		}
	}

	// Postprocessing outranks late downloading events.
	if flags.Any() {
		return stageDecision{Label: flagLabel(flags), Flags: flags}
	}

	if isMergeArtifact(in.PartKey, in.Filename) {
		flags.Merging = true
		return stageDecision{Label: stageMerging, Flags: flags}
	}

	// The engine does not always announce the merge before producing the file.
	if in.allPartsFinished() {
		if in.ExpectedParts > 1 {
			flags.Merging = true
			return stageDecision{Label: stageMerging, Flags: flags}
		}
		return stageDecision{Label: stageComplete, Flags: flags}
	}

	if in.Kind == model.EventDownloading && in.PartKey != "" {
		return stageDecision{Label: stageDownloading + " " + in.PartKey, Flags: flags}
	}
	return stageDecision{Label: in.Current, Flags: flags}
}

func isMergeArtifact(partKey, filename string) bool {
	if partKey == mergePartKey {
		return true
	}
	return filename != "" && mergeTempPattern.MatchString(filename)
}

// setPostprocessorFlag reports whether name maps to a tracked stage.
func setPostprocessorFlag(flags *model.PostprocessingFlags, name string, on bool) bool {
	switch normalizePostprocessor(name) {
	case model.PostprocessorMerger:
		flags.Merging = on
	case model.PostprocessorExtractAudio:
		flags.ExtractingAudio = on
	case model.PostprocessorConvertor, model.PostprocessorRemuxer:
		flags.Encoding = on
	default:
		return false
	}
	return true
}

func normalizePostprocessor(name string) string {
	n := strings.TrimSpace(name)
	n = strings.TrimPrefix(n, "FFmpeg")
	n = strings.TrimSuffix(n, "PP")
	return n
}

func flagLabel(flags model.PostprocessingFlags) string {
	switch {
	case flags.Merging:
		return stageMerging
	case flags.Encoding:
		return stageEncoding
	case flags.ExtractingAudio:
		return stageExtractingAudio
	default:
		return ""
	}
}

func flagStatus(flags model.PostprocessingFlags) (model.Status, bool) {
	switch {
	case flags.Merging:
		return model.StatusMerging, true
	case flags.Encoding:
		return model.StatusEncoding, true
	case flags.ExtractingAudio:
		return model.StatusExtractingAudio, true
	default:
		return "", false
	}
}

// displayProgress pins at 99 until the job is completed so a finished
// download never reads as 100% while postprocessing is still pending.
func displayProgress(status model.Status, flags model.PostprocessingFlags, allFinished bool, total, downloaded int64) int {
	if status == model.StatusCompleted {
		return 100
	}
	if flags.Any() || allFinished {
		return 99
	}
	if total <= 0 {
		return 0
	}
	pct := int(downloaded * 100 / total)
	if pct < 0 {
		return 0
	}
	return min(pct, 99)
}
