// Package watcher follows the team config and task files the agent CLI
// writes under ~/.claude and feeds their changes into the record store.
package watcher

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Defaults for Config.
const (
	DefaultDebounce     = 300 * time.Millisecond
	DefaultPollInterval = 2 * time.Second
)

// Config locates the watched directories.
type Config struct {
	TeamsDir     string // default: ~/.claude/teams
	TasksDir     string // default: ~/.claude/tasks
	Debounce     time.Duration
	PollInterval time.Duration
}

// DefaultConfig resolves the CLI's directories under the user's home.
func DefaultConfig() Config {
	home, _ := os.UserHomeDir()
	root := filepath.Join(home, ".claude")
	return Config{
		TeamsDir:     filepath.Join(root, "teams"),
		TasksDir:     filepath.Join(root, "tasks"),
		Debounce:     DefaultDebounce,
		PollInterval: DefaultPollInterval,
	}
}

// FileEvent describes a settled change to one file.
type FileEvent struct {
	Op   string // create, write, remove, rename
	Path string
	Name string // path relative to the watched directory
	// Data is the file content when it exists and is valid JSON, else nil.
	Data json.RawMessage
}

// Callback receives settled file changes for one watched directory.
type Callback func(ev FileEvent)

type target struct {
	dir      string
	callback Callback
	active   bool // registered with fsnotify; false while polling for the dir
}

// Watcher debounces fsnotify events per file and polls for directories that
// do not exist yet.
type Watcher struct {
	cfg    Config
	fs     *fsnotify.Watcher
	logger *slog.Logger

	mu      sync.Mutex
	targets map[string]*target
	timers  map[string]*pending
	ops     map[string]fsnotify.Op
	closed  bool

	stop chan struct{}
	wg   sync.WaitGroup
}

// New creates a Watcher. Call Start to begin delivering events.
func New(cfg Config, logger *slog.Logger) (*Watcher, error) {
	def := DefaultConfig()
	if cfg.TeamsDir == "" {
		cfg.TeamsDir = def.TeamsDir
	}
	if cfg.TasksDir == "" {
		cfg.TasksDir = def.TasksDir
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultDebounce
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		cfg:     cfg,
		fs:      fw,
		logger:  logger,
		targets: make(map[string]*target),
		timers:  make(map[string]*pending),
		ops:     make(map[string]fsnotify.Op),
		stop:    make(chan struct{}),
	}, nil
}

// TeamConfigDir is the directory holding teamName's config.json.
func (w *Watcher) TeamConfigDir(teamName string) string {
	return filepath.Join(w.cfg.TeamsDir, teamName)
}

// TeamTasksDir is the directory holding teamID's task files.
func (w *Watcher) TeamTasksDir(teamID string) string {
	return filepath.Join(w.cfg.TasksDir, teamID)
}

// WatchTeamConfig watches the config directory of teamName.
func (w *Watcher) WatchTeamConfig(teamName string, cb Callback) {
	w.watch(w.TeamConfigDir(teamName), cb)
}

// WatchTeamTasks watches the task directory of teamID.
func (w *Watcher) WatchTeamTasks(teamID string, cb Callback) {
	w.watch(w.TeamTasksDir(teamID), cb)
}

// watch registers dir once. A directory that does not exist yet is picked up
// by the poll loop.
func (w *Watcher) watch(dir string, cb Callback) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	if _, ok := w.targets[dir]; ok {
		return
	}
	t := &target{dir: dir, callback: cb}
	w.targets[dir] = t
	w.activateLocked(t)
}

func (w *Watcher) activateLocked(t *target) {
	info, err := os.Stat(t.dir)
	if err != nil || !info.IsDir() {
		return
	}
	if err := w.fs.Add(t.dir); err != nil {
		w.logger.Warn("watch directory failed", "dir", t.dir, "error", err)
		return
	}
	t.active = true
	w.logger.Debug("watching directory", "dir", t.dir)
}

// Unwatch stops delivering events for dir.
func (w *Watcher) Unwatch(dir string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	t, ok := w.targets[dir]
	if !ok {
		return
	}
	delete(w.targets, dir)
	if t.active {
		_ = w.fs.Remove(dir)
	}
}

// Watching reports whether dir is registered and already exists.
func (w *Watcher) Watching(dir string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	t, ok := w.targets[dir]
	return ok && t.active
}

// Start runs the event loop until ctx is done or Close is called.
func (w *Watcher) Start(ctx context.Context) {
	w.wg.Add(1)
	go w.run(ctx)
}

func (w *Watcher) run(ctx context.Context) {
	defer w.wg.Done()
	poll := time.NewTicker(w.cfg.PollInterval)
	defer poll.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stop:
			return
		case ev, ok := <-w.fs.Events:
			if !ok {
				return
			}
			w.handle(ev)
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watcher error", "error", err)
		case <-poll.C:
			w.pollPending()
		}
	}
}

func (w *Watcher) pollPending() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, t := range w.targets {
		if !t.active {
			w.activateLocked(t)
		}
	}
}

// handle restarts the debounce timer of the changed file.
func (w *Watcher) handle(ev fsnotify.Event) {
	if ev.Op == fsnotify.Chmod {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	t := w.targets[filepath.Dir(ev.Name)]
	if t == nil {
		return
	}

	w.ops[ev.Name] |= ev.Op
	if prev, ok := w.timers[ev.Name]; ok {
		prev.timer.Stop()
	}
	path := ev.Name
	p := &pending{}
	p.timer = time.AfterFunc(w.cfg.Debounce, func() { w.fire(t, path, p) })
	w.timers[path] = p
}

// pending is one debounce timer. A timer that fired while handle was
// replacing it finds a different entry in Watcher.timers and does nothing.
type pending struct {
	timer *time.Timer
}

func (w *Watcher) fire(t *target, path string, p *pending) {
	w.mu.Lock()
	if w.timers[path] != p {
		w.mu.Unlock()
		return
	}
	op := w.ops[path]
	delete(w.ops, path)
	delete(w.timers, path)
	_, live := w.targets[t.dir]
	closed := w.closed
	w.mu.Unlock()
	if closed || !live {
		return
	}

	ev := FileEvent{
		Op:   opName(op),
		Path: path,
		Name: strings.TrimPrefix(path, t.dir+string(filepath.Separator)),
		Data: readJSON(path),
	}
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("watch callback panicked", "path", path, "panic", r)
		}
	}()
	t.callback(ev)
}

func opName(op fsnotify.Op) string {
	switch {
	case op.Has(fsnotify.Remove):
		return "remove"
	case op.Has(fsnotify.Rename):
		return "rename"
	case op.Has(fsnotify.Create):
		return "create"
	default:
		return "write"
	}
}

// readJSON returns the file content if it exists and parses as JSON.
func readJSON(path string) json.RawMessage {
	data, err := os.ReadFile(path)
	if err != nil || !json.Valid(data) {
		return nil
	}
	return data
}

// Close stops the loop, pending timers and the fsnotify watcher.
func (w *Watcher) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	for path, p := range w.timers {
		p.timer.Stop()
		delete(w.timers, path)
	}
	w.mu.Unlock()

	close(w.stop)
	w.wg.Wait()
	return w.fs.Close()
}
