package daemon

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// File extensions used in the inbox directory.
const (
	InboxExt    = ".flog"
	RejectedExt = ".rejected"
)

// Inbox watches a directory for course code files.
//
// A path is delivered on Files once it has seen no further write for the
// debounce interval, so a file that is still being written is not read
// half-way.
type Inbox struct {
	dir      string
	debounce time.Duration

	watcher *fsnotify.Watcher
	files   chan string
	errors  chan error

	pending   map[string]time.Time // path -> last event
	pendingMu sync.Mutex

	done    chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
}

// NewInbox creates an inbox for dir. The inbox must be started with Start
// before it delivers files.
func NewInbox(dir string, debounce time.Duration) (*Inbox, error) {
	if dir == "" {
		return nil, fmt.Errorf("inbox directory cannot be empty")
	}
	if debounce <= 0 {
		debounce = 100 * time.Millisecond
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	return &Inbox{
		dir:      dir,
		debounce: debounce,
		watcher:  watcher,
		files:    make(chan string, 100),
		errors:   make(chan error, 10),
		pending:  make(map[string]time.Time),
		done:     make(chan struct{}),
	}, nil
}

// Dir returns the watched directory.
func (in *Inbox) Dir() string {
	return in.dir
}

// Start creates the directory if needed and begins watching it.
func (in *Inbox) Start() error {
	in.mu.Lock()
	defer in.mu.Unlock()

	if in.running {
		return fmt.Errorf("inbox already running")
	}

	if err := os.MkdirAll(in.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create inbox directory %s: %w", in.dir, err)
	}
	if err := in.watcher.Add(in.dir); err != nil {
		return fmt.Errorf("failed to watch inbox directory %s: %w", in.dir, err)
	}

	in.running = true
	in.wg.Add(2)
	go in.processEvents()
	go in.processPending()

	return nil
}

// Stop stops watching and closes the Files and Errors channels. Stopping
// an inbox that was never started only releases the watcher.
func (in *Inbox) Stop() error {
	in.mu.Lock()
	if !in.running {
		in.mu.Unlock()
		return in.watcher.Close()
	}
	in.running = false
	in.mu.Unlock()

	close(in.done)

	if err := in.watcher.Close(); err != nil {
		return fmt.Errorf("failed to close watcher: %w", err)
	}

	in.wg.Wait()

	close(in.files)
	close(in.errors)

	return nil
}

// Files returns the channel of paths ready to import.
func (in *Inbox) Files() <-chan string {
	return in.files
}

// Errors returns the channel of watcher errors.
func (in *Inbox) Errors() <-chan error {
	return in.errors
}

// Scan returns the code files already in the directory, sorted by name.
func (in *Inbox) Scan() ([]string, error) {
	entries, err := os.ReadDir(in.dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read inbox directory: %w", err)
	}

	var paths []string
	for _, e := range entries {
		if !e.IsDir() && isCodeFile(e.Name()) {
			paths = append(paths, filepath.Join(in.dir, e.Name()))
		}
	}
	sort.Strings(paths)
	return paths, nil
}

func (in *Inbox) processEvents() {
	defer in.wg.Done()

	for {
		select {
		case <-in.done:
			return

		case event, ok := <-in.watcher.Events:
			if !ok {
				return
			}
			// Removals and renames away are the inbox's own cleanup.
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
				continue
			}
			if !isCodeFile(event.Name) {
				continue
			}

			in.pendingMu.Lock()
			in.pending[event.Name] = time.Now()
			in.pendingMu.Unlock()

		case err, ok := <-in.watcher.Errors:
			if !ok {
				return
			}
			select {
			case in.errors <- err:
			case <-in.done:
				return
			}
		}
	}
}

// processPending delivers paths that have been quiet for the debounce
// interval.
func (in *Inbox) processPending() {
	defer in.wg.Done()

	ticker := time.NewTicker(in.debounce)
	defer ticker.Stop()

	for {
		select {
		case <-in.done:
			return
		case <-ticker.C:
			for _, path := range in.ready(time.Now()) {
				select {
				case in.files <- path:
				case <-in.done:
					return
				}
			}
		}
	}
}

func (in *Inbox) ready(now time.Time) []string {
	in.pendingMu.Lock()
	defer in.pendingMu.Unlock()

	var out []string
	for path, at := range in.pending {
		if now.Sub(at) < in.debounce {
			continue
		}
		out = append(out, path)
		delete(in.pending, path)
	}
	sort.Strings(out)
	return out
}

func isCodeFile(name string) bool {
	return strings.HasSuffix(name, InboxExt)
}
