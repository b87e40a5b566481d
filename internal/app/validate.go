package app

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	pageschema "horse.fit/pageid/schema"
)

type validateResult struct {
	Scanned int
	Valid   int
	Invalid int
}

func runValidate(args []string) int {
	flags := flag.NewFlagSet("validate", flag.ContinueOnError)
	flags.SetOutput(os.Stderr)

	dir := flags.String("dir", "testdata/payloads", "Directory containing .json fingerprint payloads")
	recursive := flags.Bool("recursive", true, "Recursively scan subdirectories")

	if err := flags.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	root := strings.TrimSpace(*dir)
	files, err := collectJSONFiles(root, *recursive)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Validation setup failed: %v\n", err)
		return 1
	}

	result := validatePayloadFiles(files)
	fmt.Fprintf(stdout, "validate scanned=%d valid=%d invalid=%d dir=%s recursive=%t\n",
		result.Scanned, result.Valid, result.Invalid, root, *recursive)

	if result.Scanned == 0 {
		fmt.Fprintf(os.Stderr, "Validation failed: no .json files found under %s\n", root)
		return 1
	}
	if result.Invalid > 0 {
		return 1
	}
	return 0
}

func validatePayloadFiles(files []string) validateResult {
	var result validateResult
	for _, path := range files {
		result.Scanned++

		raw, err := os.ReadFile(path)
		if err != nil {
			result.Invalid++
			fmt.Fprintf(os.Stderr, "INVALID %s: read failed: %v\n", path, err)
			continue
		}
		if !json.Valid(raw) {
			result.Invalid++
			fmt.Fprintf(os.Stderr, "INVALID %s: malformed JSON\n", path)
			continue
		}
		if _, err := pageschema.ValidatePageIdentityPayload(raw); err != nil {
			result.Invalid++
			fmt.Fprintf(os.Stderr, "INVALID %s: %v\n", path, err)
			continue
		}
		result.Valid++
	}
	return result
}

// collectJSONFiles lists non-hidden .json files under root in sorted order.
func collectJSONFiles(root string, recursive bool) ([]string, error) {
	if root == "" {
		return nil, fmt.Errorf("directory path is empty")
	}

	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", root, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", root)
	}

	isPayload := func(name string) bool {
		return !strings.HasPrefix(name, ".") && strings.EqualFold(filepath.Ext(name), ".json")
	}

	var files []string
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() {
			if path == root {
				return nil
			}
			if !recursive || strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if isPayload(d.Name()) {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk directory %s: %w", root, err)
	}

	sort.Strings(files)
	return files, nil
}
