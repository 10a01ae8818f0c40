package trace

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
)

// FileRecorder writes each machine's trace to <Dir>/<id>.log. Every line
// is written straight through so a concurrent reader sees it immediately.
type FileRecorder struct {
	dir string

	mu    sync.Mutex
	files map[int]*traceFile
}

type traceFile struct {
	f      *os.File
	closed bool
}

// NewFileRecorder creates dir if needed and returns a recorder rooted there.
func NewFileRecorder(dir string) (*FileRecorder, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("mkdir %s: %w", dir, err)
	}
	return &FileRecorder{dir: dir, files: make(map[int]*traceFile)}, nil
}

// Dir returns the directory holding the trace files.
func (r *FileRecorder) Dir() string { return r.dir }

// Path returns the trace file for a machine.
func (r *FileRecorder) Path(machineID int) string {
	return filepath.Join(r.dir, strconv.Itoa(machineID)+".log")
}

// Wipe truncates the machine's trace file and leaves it open for appends.
func (r *FileRecorder) Wipe(machineID int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if tf, ok := r.files[machineID]; ok && !tf.closed {
		tf.f.Close()
	}
	f, err := os.OpenFile(r.Path(machineID), os.O_CREATE|os.O_TRUNC|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("wipe trace %d: %w", machineID, err)
	}
	r.files[machineID] = &traceFile{f: f}
	return nil
}

func (r *FileRecorder) Record(machineID int, line string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	tf, ok := r.files[machineID]
	if !ok {
		f, err := os.OpenFile(r.Path(machineID), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("open trace %d: %w", machineID, err)
		}
		tf = &traceFile{f: f}
		r.files[machineID] = tf
	}
	if tf.closed {
		return fmt.Errorf("machine %d: %w", machineID, ErrClosed)
	}
	if _, err := tf.f.WriteString(line + "\n"); err != nil {
		return fmt.Errorf("write trace %d: %w", machineID, err)
	}
	return nil
}

// Close syncs and closes the machine's trace file.
func (r *FileRecorder) Close(machineID int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	tf, ok := r.files[machineID]
	if !ok {
		r.files[machineID] = &traceFile{closed: true}
		return nil
	}
	if tf.closed {
		return nil
	}
	tf.closed = true
	if err := tf.f.Sync(); err != nil {
		tf.f.Close()
		return fmt.Errorf("sync trace %d: %w", machineID, err)
	}
	if err := tf.f.Close(); err != nil {
		return fmt.Errorf("close trace %d: %w", machineID, err)
	}
	return nil
}

// CloseAll finalizes every trace the recorder has opened.
func (r *FileRecorder) CloseAll() error {
	r.mu.Lock()
	ids := make([]int, 0, len(r.files))
	for id := range r.files {
		ids = append(ids, id)
	}
	r.mu.Unlock()

	var firstErr error
	for _, id := range ids {
		if err := r.Close(id); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// ReadLines reads a machine's trace back from disk.
func (r *FileRecorder) ReadLines(machineID int) ([]string, error) {
	return ReadFile(r.Path(machineID))
}

// ReadFile returns the lines of a trace file in order.
func ReadFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var lines []string
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	return lines, sc.Err()
}
