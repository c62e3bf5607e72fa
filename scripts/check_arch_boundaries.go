package main

import (
	"fmt"
	"go/parser"
	"go/token"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const modulePrefix = "yt-job-server/internal/"

// layer lists what one internal package may import: sibling internal
// packages and third-party module roots.
type layer struct {
	internal   []string
	thirdParty []string
}

var layers = map[string]layer{
	"model":    {},
	"runstore": {},
	"ytdlp": {
		internal:   []string{"model"},
		thirdParty: []string{"github.com/dustin/go-humanize", "github.com/ipfs/go-log/v2"},
	},
	"jobs": {
		internal:   []string{"model", "runstore"},
		thirdParty: []string{"github.com/google/uuid", "github.com/ipfs/go-log/v2"},
	},
	"config": {
		internal: []string{"runstore", "ytdlp"},
	},
	"api": {
		internal:   []string{"jobs", "model"},
		thirdParty: []string{"github.com/gin-gonic/gin", "github.com/ipfs/go-log/v2"},
	},
	"cli": {
		internal: []string{"api", "config", "jobs", "model", "runstore", "ytdlp"},
		thirdParty: []string{
			"github.com/cenkalti/backoff/v4",
			"github.com/charmbracelet/bubbles",
			"github.com/charmbracelet/bubbletea",
			"github.com/charmbracelet/lipgloss",
			"github.com/dustin/go-humanize",
			"github.com/ipfs/go-log/v2",
			"golang.org/x/sync",
		},
	},
}

func main() {
	var violations []string
	err := filepath.WalkDir("internal", func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() || !strings.HasSuffix(path, ".go") || strings.HasSuffix(path, "_test.go") {
			return nil
		}
		found, err := checkFile(path)
		if err != nil {
			return err
		}
		violations = append(violations, found...)
		return nil
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "boundary walk failed: %v\n", err)
		os.Exit(1)
	}

	if len(violations) > 0 {
		sort.Strings(violations)
		fmt.Fprintln(os.Stderr, "architecture boundary violations detected:")
		for _, v := range violations {
			fmt.Fprintf(os.Stderr, "- %s\n", v)
		}
		os.Exit(1)
	}
	fmt.Println("architecture boundary check: OK")
}

func checkFile(path string) ([]string, error) {
	parts := strings.Split(filepath.ToSlash(path), "/")
	if len(parts) < 3 {
		return nil, nil
	}
	pkg := parts[1]
	rules, ok := layers[pkg]
	if !ok {
		return []string{fmt.Sprintf("%s: package %q has no layer rules", path, pkg)}, nil
	}

	file, err := parser.ParseFile(token.NewFileSet(), path, nil, parser.ImportsOnly)
	if err != nil {
		return nil, err
	}

	var out []string
	for _, imp := range file.Imports {
		importPath := strings.Trim(imp.Path.Value, `"`)
		switch {
		case strings.HasPrefix(importPath, modulePrefix):
			target := strings.SplitN(strings.TrimPrefix(importPath, modulePrefix), "/", 2)[0]
			if target != pkg && !contains(rules.internal, target) {
				out = append(out, fmt.Sprintf("%s: %s -> %s is forbidden", path, pkg, target))
			}
		case isThirdParty(importPath):
			if !hasModuleRoot(rules.thirdParty, importPath) {
				out = append(out, fmt.Sprintf("%s: %s may not import %s", path, pkg, importPath))
			}
		}
	}
	return out, nil
}

// isThirdParty treats any import whose first element looks like a host name
// as a module dependency.
func isThirdParty(importPath string) bool {
	first := strings.SplitN(importPath, "/", 2)[0]
	return strings.Contains(first, ".")
}

func hasModuleRoot(roots []string, importPath string) bool {
	for _, root := range roots {
		if importPath == root || strings.HasPrefix(importPath, root+"/") {
			return true
		}
	}
	return false
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
