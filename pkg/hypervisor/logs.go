package hypervisor

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/fsnotify/fsnotify"
)

// LatestLog returns the newest log file of machine id in dir. Log names
// embed a sortable UTC timestamp, so the lexically greatest name wins.
func LatestLog(dir, id string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return "", ErrNoLogsFound
		}
		return "", fmt.Errorf("read logs dir: %w", err)
	}

	prefix := id + "-"
	var names []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, ".log") {
			continue
		}
		names = append(names, name)
	}
	if len(names) == 0 {
		return "", ErrNoLogsFound
	}
	sort.Strings(names)
	return filepath.Join(dir, names[len(names)-1]), nil
}

// Follow copies path to w, then keeps copying appended data until ctx is
// done. It returns nil on cancellation.
func Follow(ctx context.Context, path string, w io.Writer) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(path); err != nil {
		return fmt.Errorf("watch %s: %w", path, err)
	}

	// Drain what already exists before waiting for writes.
	if _, err := io.Copy(w, f); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
				return nil
			}
			if event.Has(fsnotify.Write) {
				if _, err := io.Copy(w, f); err != nil {
					return err
				}
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			return fmt.Errorf("watch %s: %w", path, err)
		}
	}
}
