// Package targets reads batch input: identifier lists, the latest-file
// marker written by the harvester, globbed list files and marker watches.
package targets

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"

	"repscan/internal/sanitize"
)

// MarkerFile is the conventional name of the latest-file marker.
const MarkerFile = "latest_file.txt"

// ErrNoTargets is returned when a marker names nothing.
var ErrNoTargets = errors.New("targets: marker is empty")

// Read returns the valid identifiers in r, one per line, in order.
// Blank lines, '#' comments and invalid identifiers are skipped; repeated
// identifiers keep their first position.
func Read(r io.Reader) ([]string, error) {
	var out []string
	seen := make(map[string]struct{})

	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		id, err := sanitize.Sanitize(line)
		if err != nil {
			continue
		}
		if _, dup := seen[id.String()]; dup {
			continue
		}
		seen[id.String()] = struct{}{}
		out = append(out, id.String())
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read targets: %w", err)
	}
	return out, nil
}

// ReadFile reads identifiers from path.
func ReadFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open targets: %w", err)
	}
	defer f.Close()
	return Read(f)
}

// ResolveMarker returns the list file a marker names. Relative names are
// resolved against the marker's directory.
func ResolveMarker(markerPath string) (string, error) {
	b, err := os.ReadFile(markerPath)
	if err != nil {
		return "", fmt.Errorf("read marker: %w", err)
	}
	name := strings.TrimSpace(string(b))
	if name == "" {
		return "", ErrNoTargets
	}
	if !filepath.IsAbs(name) {
		name = filepath.Join(filepath.Dir(markerPath), name)
	}
	return name, nil
}

// ReadLatest follows the marker at markerPath and reads the file it names.
func ReadLatest(markerPath string) ([]string, error) {
	path, err := ResolveMarker(markerPath)
	if err != nil {
		return nil, err
	}
	return ReadFile(path)
}

// Glob reads every file matching pattern (doublestar syntax, e.g.
// "harvest/**/unique_ips_*.txt") in lexical order and merges the results,
// dropping repeats across files.
func Glob(pattern string) ([]string, error) {
	matches, err := doublestar.FilepathGlob(pattern)
	if err != nil {
		return nil, fmt.Errorf("glob %q: %w", pattern, err)
	}
	sort.Strings(matches)

	var out []string
	seen := make(map[string]struct{})
	for _, m := range matches {
		ids, err := ReadFile(m)
		if err != nil {
			return nil, err
		}
		for _, id := range ids {
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	return out, nil
}

// Watch calls fn with the list file named by the marker every time the
// marker is written, until ctx is done. The directory is watched rather than
// the file so that markers replaced by rename are still seen.
//
// fn runs on the watch goroutine; a slow fn delays later notifications. An
// error from fn is logged and watching continues.
func Watch(ctx context.Context, markerPath string, logger *slog.Logger, fn func(ctx context.Context, listPath string) error) error {
	if logger == nil {
		logger = slog.Default()
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watch: %w", err)
	}
	defer w.Close()

	dir := filepath.Dir(markerPath)
	if err := w.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	clean := filepath.Clean(markerPath)

	last := ""
	for {
		select {
		case <-ctx.Done():
			return nil

		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.WarnContext(ctx, "watch error", "err", err)

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != clean || !(ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create)) {
				continue
			}
			list, err := ResolveMarker(markerPath)
			if errors.Is(err, ErrNoTargets) {
				// Truncate-then-write shows up as two events; wait for content.
				continue
			}
			if err != nil {
				logger.WarnContext(ctx, "failed to resolve marker", "marker", markerPath, "err", err)
				continue
			}
			if list == last {
				continue
			}
			last = list
			if err := fn(ctx, list); err != nil {
				logger.ErrorContext(ctx, "batch from marker failed", "list", list, "err", err)
			}
		}
	}
}
