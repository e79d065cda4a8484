package orchestrator

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/hashicorp/go-hclog"
)

// CancelSuffix marks a signal file requesting mission cancellation.
const CancelSuffix = ".cancel"

const defaultPollInterval = 2 * time.Second

// Canceller cancels missions by ID.
type Canceller interface {
	Cancel(missionID, reason string) error
}

// SignalPath returns the cancel signal file for a mission.
func SignalPath(dir, missionID string) string {
	return filepath.Join(dir, missionID+CancelSuffix)
}

// WriteCancelSignal asks whichever process runs missionID to cancel it.
func WriteCancelSignal(dir, missionID, reason string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create signals directory: %w", err)
	}
	// Write then rename so watchers never see a half-written file.
	tmp := filepath.Join(dir, "."+missionID+".tmp")
	if err := os.WriteFile(tmp, []byte(reason), 0644); err != nil {
		return fmt.Errorf("write cancel signal: %w", err)
	}
	return os.Rename(tmp, SignalPath(dir, missionID))
}

// SignalWatcher cancels missions when "<missionId>.cancel" files appear in
// a directory. It uses fsnotify when available and polls otherwise.
type SignalWatcher struct {
	dir          string
	target       Canceller
	logger       hclog.Logger
	pollInterval time.Duration

	watcher *fsnotify.Watcher
	done    chan struct{}
	wg      sync.WaitGroup
	once    sync.Once
}

// NewSignalWatcher creates the signals directory and a watcher for it.
func NewSignalWatcher(dir string, target Canceller, logger hclog.Logger, pollInterval time.Duration) (*SignalWatcher, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create signals directory: %w", err)
	}
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}

	sw := &SignalWatcher{
		dir:          dir,
		target:       target,
		logger:       logger.Named("signals"),
		pollInterval: pollInterval,
		done:         make(chan struct{}),
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		sw.logger.Warn("fsnotify unavailable, polling for signals", "error", err)
		return sw, nil
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		sw.logger.Warn("cannot watch signals directory, polling", "dir", dir, "error", err)
		return sw, nil
	}
	sw.watcher = watcher
	return sw, nil
}

// Start handles signals already present and begins watching.
func (sw *SignalWatcher) Start() {
	sw.scan()
	sw.wg.Add(1)
	if sw.watcher != nil {
		go sw.watch()
	} else {
		go sw.poll()
	}
}

// Stop ends watching. Safe to call more than once.
func (sw *SignalWatcher) Stop() {
	sw.once.Do(func() {
		close(sw.done)
		if sw.watcher != nil {
			sw.watcher.Close()
		}
	})
	sw.wg.Wait()
}

func (sw *SignalWatcher) watch() {
	defer sw.wg.Done()
	for {
		select {
		case <-sw.done:
			return
		case event, ok := <-sw.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) != 0 {
				sw.handle(event.Name)
			}
		case err, ok := <-sw.watcher.Errors:
			if !ok {
				return
			}
			sw.logger.Warn("signal watcher error", "error", err)
		}
	}
}

func (sw *SignalWatcher) poll() {
	defer sw.wg.Done()
	ticker := time.NewTicker(sw.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-sw.done:
			return
		case <-ticker.C:
			sw.scan()
		}
	}
}

func (sw *SignalWatcher) scan() {
	entries, err := os.ReadDir(sw.dir)
	if err != nil {
		sw.logger.Warn("cannot read signals directory", "dir", sw.dir, "error", err)
		return
	}
	for _, e := range entries {
		if !e.IsDir() {
			sw.handle(filepath.Join(sw.dir, e.Name()))
		}
	}
}

// handle cancels the mission named by a signal file and removes the file.
// Signals for missions this process does not run are left in place.
func (sw *SignalWatcher) handle(path string) {
	base := filepath.Base(path)
	if !strings.HasSuffix(base, CancelSuffix) {
		return
	}
	missionID := strings.TrimSuffix(base, CancelSuffix)
	if missionID == "" {
		return
	}

	reason := "cancel signal received"
	if data, err := os.ReadFile(path); err == nil {
		if text := strings.TrimSpace(string(data)); text != "" {
			reason = text
		}
	}

	err := sw.target.Cancel(missionID, reason)
	if errors.Is(err, ErrMissionNotFound) {
		sw.logger.Debug("ignoring signal for unknown mission", "mission", missionID)
		return
	}
	if err != nil {
		sw.logger.Warn("cancel from signal failed", "mission", missionID, "error", err)
		return
	}
	sw.logger.Info("mission cancelled by signal", "mission", missionID, "reason", reason)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		sw.logger.Warn("cannot remove signal file", "path", path, "error", err)
	}
}
