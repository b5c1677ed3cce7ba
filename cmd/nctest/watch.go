package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"nctest/internal/source"
	"nctest/internal/synth"
)

const watchDebounce = 200 * time.Millisecond

var watchCmd = &cobra.Command{
	Use:   "watch [flags] [paths...]",
	Short: "Re-run fragments whenever they or the headers they include change",
	RunE:  watchExecution,
}

func init() {
	addRunFlags(watchCmd)
}

func watchExecution(cmd *cobra.Command, args []string) error {
	s, err := readRunSettings(cmd, args)
	if err != nil {
		return err
	}
	// the progress view would scroll every report away
	s.ui = uiModeOff

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to start file watcher: %w", err)
	}
	defer func() {
		if closeErr := fw.Close(); closeErr != nil {
			log.Debugf("closing watcher: %v", closeErr)
		}
	}()

	ws := newWatchSet(s.paths, s.extensions)
	for {
		res, err := runOnce(ctx, cmd, s)
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			// compiler missing or similar; keep watching so a fix is picked up
			log.Errorf("%v", err)
		} else {
			ws.update(res.Report)
		}
		ws.sync(fw)
		fmt.Fprintf(cmd.ErrOrStderr(), "watching %d director(ies) for changes...\n", len(ws.dirs))

		changed := waitForChange(ctx, fw, ws)
		if changed == "" {
			return nil
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "\n%s changed, re-running\n", source.RelativePath(changed, "."))
	}
}

// watchSet tracks which paths trigger a re-run: the discovered fragments,
// every header they read, and new files with a fragment extension under
// the input directories.
type watchSet struct {
	exts    []string
	inputs  []string
	files   map[string]bool
	dirs    map[string]bool
	watched map[string]bool
}

func newWatchSet(paths, exts []string) *watchSet {
	ws := &watchSet{
		exts:    exts,
		files:   make(map[string]bool),
		dirs:    make(map[string]bool),
		watched: make(map[string]bool),
	}
	for _, p := range paths {
		abs := absPath(p)
		ws.inputs = append(ws.inputs, abs)
		if info, err := os.Stat(abs); err == nil && info.IsDir() {
			ws.dirs[abs] = true
		} else {
			ws.track(abs)
		}
	}
	return ws
}

func (ws *watchSet) track(path string) {
	abs := absPath(path)
	ws.files[abs] = true
	ws.dirs[filepath.Dir(abs)] = true
}

func (ws *watchSet) update(rep *synth.Report) {
	if rep == nil {
		return
	}
	for _, f := range rep.Fragments {
		ws.track(f.Path)
		for _, dep := range f.Deps {
			ws.track(dep)
		}
	}
}

// sync adds directories not yet watched. Directories are watched rather
// than files because editors often replace a file instead of writing it.
func (ws *watchSet) sync(fw *fsnotify.Watcher) {
	dirs := make([]string, 0, len(ws.dirs))
	for dir := range ws.dirs {
		if !ws.watched[dir] {
			dirs = append(dirs, dir)
		}
	}
	sort.Strings(dirs)
	for _, dir := range dirs {
		if err := fw.Add(dir); err != nil {
			log.Warningf("cannot watch %s: %v", dir, err)
			continue
		}
		ws.watched[dir] = true
	}
}

// relevant reports whether an event on path should trigger a re-run.
func (ws *watchSet) relevant(path string) bool {
	abs := absPath(path)
	if ws.files[abs] {
		return true
	}
	if !hasAnyExt(abs, ws.exts) {
		return false
	}
	for _, in := range ws.inputs {
		rel, err := filepath.Rel(in, abs)
		if err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

// waitForChange blocks until a relevant change settles for watchDebounce.
// It returns the first changed path, or "" when ctx ends.
func waitForChange(ctx context.Context, fw *fsnotify.Watcher, ws *watchSet) string {
	var (
		first string
		timer *time.Timer
		fire  <-chan time.Time
	)
	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return ""
		case ev, ok := <-fw.Events:
			if !ok {
				return ""
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if !ws.relevant(ev.Name) {
				continue
			}
			log.Debugf("watch: %s %s", ev.Op, ev.Name)
			if first == "" {
				first = ev.Name
			}
			if timer == nil {
				timer = time.NewTimer(watchDebounce)
				fire = timer.C
			} else {
				timer.Reset(watchDebounce)
			}
		case err, ok := <-fw.Errors:
			if !ok {
				return ""
			}
			log.Warningf("watch: %v", err)
		case <-fire:
			return first
		}
	}
}

func absPath(p string) string {
	abs, err := filepath.Abs(p)
	if err != nil {
		return filepath.Clean(p)
	}
	return abs
}

func hasAnyExt(path string, exts []string) bool {
	ext := filepath.Ext(path)
	for _, e := range exts {
		if ext == e {
			return true
		}
	}
	return false
}
