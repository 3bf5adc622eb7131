// Package logstore keeps daemon event logs in per-component ring buffers
// with NDJSON file persistence, and builds diagnostics bundles from them.
package logstore

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const (
	maxLines     = 5000
	maxBytes     = 2 * 1024 * 1024  // 2MB in-memory ring buffer per component
	maxFileBytes = 10 * 1024 * 1024 // 10MB per log file before rotation
)

// Components whose events are logged separately.
const (
	ComponentDaemon    = "daemon"
	ComponentContainer = "container"
	ComponentLauncher  = "launcher"
	ComponentGuest     = "guest"
)

// Entry is a single logged event.
type Entry struct {
	Timestamp time.Time `json:"ts"`
	Component string    `json:"component"`
	Level     string    `json:"level"`
	Line      string    `json:"line"`
}

// Store manages the per-component logs.
type Store struct {
	mu      sync.RWMutex
	logs    map[string]*componentLog
	logsDir string
}

// NewStore creates a log store rooted at logsDir, creating it if needed.
func NewStore(logsDir string) *Store {
	os.MkdirAll(logsDir, 0700)
	return &Store{
		logs:    make(map[string]*componentLog),
		logsDir: logsDir,
	}
}

// Dir returns the directory holding the NDJSON files.
func (s *Store) Dir() string {
	return s.logsDir
}

// Append records an event for a component.
func (s *Store) Append(component, level, line string) {
	s.get(component).append(Entry{
		Timestamp: time.Now(),
		Component: component,
		Level:     level,
		Line:      line,
	})
}

// Read returns buffered entries for a component newer than since, limited
// to the last tail entries. tail <= 0 means no tail limit.
func (s *Store) Read(component string, since time.Time, tail int) []Entry {
	return s.get(component).read(since, tail)
}

// Subscribe returns a live entry channel for a component, the buffered
// entries, and an unsubscribe function.
func (s *Store) Subscribe(component string) (ch chan Entry, existing []Entry, unsub func()) {
	return s.get(component).subscribe()
}

// Close flushes and closes all component files.
func (s *Store) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, cl := range s.logs {
		cl.close()
	}
}

func (s *Store) get(component string) *componentLog {
	s.mu.RLock()
	cl, ok := s.logs[component]
	s.mu.RUnlock()
	if ok {
		return cl
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if cl, ok := s.logs[component]; ok {
		return cl
	}
	cl = newComponentLog(filepath.Join(s.logsDir, component+".ndjson"))
	s.logs[component] = cl
	return cl
}

// componentLog is a ring buffer with disk persistence and live subscriptions.
type componentLog struct {
	mu sync.Mutex

	entries    []Entry
	head       int
	count      int
	totalBytes int

	subs []chan Entry

	filePath  string
	file      *os.File
	fileBytes int64
}

func newComponentLog(filePath string) *componentLog {
	cl := &componentLog{
		entries:  make([]Entry, maxLines),
		filePath: filePath,
	}
	f, err := os.OpenFile(filePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err == nil {
		cl.file = f
		if info, _ := f.Stat(); info != nil {
			cl.fileBytes = info.Size()
		}
	}
	return cl
}

func (cl *componentLog) append(entry Entry) {
	cl.mu.Lock()

	entrySize := len(entry.Line) + len(entry.Level) + 80 // approximate overhead

	for cl.count > 0 && (cl.totalBytes+entrySize > maxBytes || cl.count >= maxLines) {
		oldest := cl.entries[cl.head]
		cl.totalBytes -= len(oldest.Line) + len(oldest.Level) + 80
		cl.head = (cl.head + 1) % maxLines
		cl.count--
	}

	idx := (cl.head + cl.count) % maxLines
	cl.entries[idx] = entry
	cl.count++
	cl.totalBytes += entrySize

	if cl.file != nil {
		if data, err := json.Marshal(entry); err == nil {
			data = append(data, '\n')
			if n, err := cl.file.Write(data); err == nil {
				cl.fileBytes += int64(n)
				if cl.fileBytes > maxFileBytes {
					cl.rotate()
				}
			}
		}
	}

	subs := make([]chan Entry, len(cl.subs))
	copy(subs, cl.subs)
	cl.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- entry:
		default:
		}
	}
}

func (cl *componentLog) rotate() {
	if cl.file != nil {
		cl.file.Close()
	}
	os.Rename(cl.filePath, cl.filePath+".1")
	f, err := os.OpenFile(cl.filePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err == nil {
		cl.file = f
		cl.fileBytes = 0
	}
}

func (cl *componentLog) read(since time.Time, tail int) []Entry {
	cl.mu.Lock()
	defer cl.mu.Unlock()

	var result []Entry
	for i := 0; i < cl.count; i++ {
		e := cl.entries[(cl.head+i)%maxLines]
		if !since.IsZero() && !e.Timestamp.After(since) {
			continue
		}
		result = append(result, e)
	}
	if tail > 0 && len(result) > tail {
		result = result[len(result)-tail:]
	}
	return result
}

func (cl *componentLog) subscribe() (chan Entry, []Entry, func()) {
	cl.mu.Lock()
	defer cl.mu.Unlock()

	ch := make(chan Entry, 100)
	cl.subs = append(cl.subs, ch)

	existing := make([]Entry, 0, cl.count)
	for i := 0; i < cl.count; i++ {
		existing = append(existing, cl.entries[(cl.head+i)%maxLines])
	}

	unsub := func() {
		cl.mu.Lock()
		defer cl.mu.Unlock()
		for i, s := range cl.subs {
			if s == ch {
				cl.subs = append(cl.subs[:i], cl.subs[i+1:]...)
				break
			}
		}
		close(ch)
	}
	return ch, existing, unsub
}

func (cl *componentLog) close() {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	if cl.file != nil {
		cl.file.Close()
		cl.file = nil
	}
	for _, ch := range cl.subs {
		close(ch)
	}
	cl.subs = nil
}
