package cli

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
)

// EnvFileOverrideVar names an env file that takes precedence over the --env flag.
const EnvFileOverrideVar = "PAGEID_ENV_FILE"

// EnvLoader loads .env files with a predictable override order.
type EnvLoader struct {
	value       *string
	defaultPath string
}

// AddEnvFlag registers an --env flag and returns an EnvLoader.
func AddEnvFlag(fs *flag.FlagSet, defaultPath, description string) *EnvLoader {
	if fs == nil {
		fs = flag.CommandLine
	}
	if defaultPath == "" {
		defaultPath = ".env"
	}
	if description == "" {
		description = "Path to the .env file"
	}

	return &EnvLoader{
		value:       fs.String("env", defaultPath, description),
		defaultPath: defaultPath,
	}
}

// Load overlays the first readable env file onto the process environment and returns its path.
// Candidates in order: $PAGEID_ENV_FILE, the --env value, its basename, the default path.
func (l *EnvLoader) Load() (string, error) {
	if l == nil {
		return "", fmt.Errorf("env loader is nil")
	}

	requested := ""
	if l.value != nil {
		requested = strings.TrimSpace(*l.value)
	}
	if requested == "" {
		requested = l.defaultPath
	}

	for _, candidate := range l.candidates(requested) {
		if err := godotenv.Overload(candidate); err == nil {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("failed to load env file from %s", requested)
}

func (l *EnvLoader) candidates(requested string) []string {
	var out []string
	seen := map[string]struct{}{}
	add := func(path string) {
		path = strings.TrimSpace(path)
		if path == "" {
			return
		}
		if _, ok := seen[path]; ok {
			return
		}
		seen[path] = struct{}{}
		out = append(out, path)
	}

	add(os.Getenv(EnvFileOverrideVar))
	add(requested)
	add(filepath.Base(requested))
	add(l.defaultPath)
	return out
}
