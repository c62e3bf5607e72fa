package jobs

import (
	"net/url"
	"os"
	"path"
	"regexp"
	"sort"
	"strings"

	"yt-job-server/internal/model"
)

var (
	// Per-stream downloads of a merged format, e.g. "title.f137.mp4".
	formatStreamPattern = regexp.MustCompile(`(?i)\.f[0-9]+(-[0-9a-z]+)*\.[a-z0-9]+$`)
	fragmentPattern     = regexp.MustCompile(`(?i)\.part-frag[0-9]+(\.part)?$`)
)

var byproductSuffixes = []string{
	".part", ".ytdl", ".tmp",
	".info.json", ".description", ".annotations.xml", ".live_chat.json",
	".jpg", ".jpeg", ".png", ".webp",
}

// IsFinalArtifact reports whether name is a delivered output file rather than
// a partial download, a merge intermediate, or sidecar metadata.
func IsFinalArtifact(name string) bool {
	if name == "" || strings.HasPrefix(name, ".") {
		return false
	}
	lower := strings.ToLower(name)
	for _, suffix := range byproductSuffixes {
		if strings.HasSuffix(lower, suffix) {
			return false
		}
	}
	if mergeTempPattern.MatchString(lower) || formatStreamPattern.MatchString(lower) || fragmentPattern.MatchString(lower) {
		return false
	}
	return true
}

// ScanArtifacts lists final artifacts in dir, sorted by name. A missing dir
// yields no artifacts.
func ScanArtifacts(dir, urlPrefix string) ([]model.Artifact, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []model.Artifact{}, nil
		}
		return nil, err
	}

	seen := make(map[string]bool, len(entries))
	out := make([]model.Artifact, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !IsFinalArtifact(e.Name()) {
			continue
		}
		id := strings.ToLower(e.Name())
		if seen[id] {
			continue
		}
		info, err := e.Info()
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, err
		}
		if !info.Mode().IsRegular() {
			continue
		}
		seen[id] = true
		out = append(out, model.Artifact{
			Name: e.Name(),
			Size: info.Size(),
			URL:  artifactURL(urlPrefix, e.Name()),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func artifactURL(prefix, name string) string {
	return path.Join("/", strings.Trim(prefix, "/"), url.PathEscape(name))
}
