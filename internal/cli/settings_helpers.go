package cli

import (
	"flag"
	"os"
	"strings"

	logging "github.com/ipfs/go-log/v2"

	"yt-job-server/internal/config"
)

var log = logging.Logger("cli")

// loadSettings reads the settings file and applies environment overrides.
func loadSettings(path string) (config.Settings, error) {
	s, err := config.Load(strings.TrimSpace(path))
	if err != nil {
		return config.Settings{}, err
	}
	return config.ApplyEnv(s, os.Getenv)
}

// flagsSet returns the names of the flags given explicitly on the command
// line, so they can override settings without clobbering them with defaults.
func flagsSet(fs *flag.FlagSet) map[string]bool {
	set := map[string]bool{}
	fs.Visit(func(f *flag.Flag) {
		set[f.Name] = true
	})
	return set
}

func setLogLevel(debug bool) {
	if debug {
		logging.SetAllLoggers(logging.LevelDebug)
		return
	}
	logging.SetAllLoggers(logging.LevelInfo)
}
