package strategy

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
)

// ErrNoMatch is returned by FindNewest when no file in the directory matches.
var ErrNoMatch = errors.New("no matching file")

// FindNewest returns the path of the most recently modified regular file in
// dir whose base name matches pattern. Ties resolve to the lexically greater
// name.
func FindNewest(dir string, pattern *regexp.Regexp) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("%s: %w", dir, ErrNoMatch)
		}
		return "", fmt.Errorf("read %s: %w", dir, err)
	}
	var (
		best     string
		bestTime int64
	)
	for _, e := range entries {
		if !e.Type().IsRegular() || !pattern.MatchString(e.Name()) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			return "", fmt.Errorf("stat %s: %w", e.Name(), err)
		}
		mod := info.ModTime().UnixNano()
		if best == "" || mod > bestTime || (mod == bestTime && e.Name() > filepath.Base(best)) {
			best, bestTime = filepath.Join(dir, e.Name()), mod
		}
	}
	if best == "" {
		return "", fmt.Errorf("%s in %s: %w", pattern, dir, ErrNoMatch)
	}
	return best, nil
}
