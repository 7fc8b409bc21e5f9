package logging

import (
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"sync"
)

// RotationConfig controls size-based log rotation.
type RotationConfig struct {
	// MaxSizeMB triggers a rotation once the file would grow past it.
	// Zero disables rotation.
	MaxSizeMB int
	// MaxBackups is how many rotated files are kept, named .1 (newest)
	// through .MaxBackups (oldest). Zero discards the old file on rotation.
	MaxBackups int
	// Compress gzips each rotated file in the background.
	Compress bool
}

// DefaultRotationConfig keeps three 10 MB backups, uncompressed.
func DefaultRotationConfig() RotationConfig {
	return RotationConfig{MaxSizeMB: 10, MaxBackups: 3}
}

var errWriterClosed = errors.New("log file is closed")

// RotatingWriter appends to a log file and rotates it by size. It is safe
// for concurrent use.
type RotatingWriter struct {
	path string
	cfg  RotationConfig
	max  int64

	mu   sync.Mutex
	f    *os.File
	size int64

	gzip sync.WaitGroup
}

// NewRotatingWriter opens path for appending, creating parent directories.
func NewRotatingWriter(path string, cfg RotationConfig) (*RotatingWriter, error) {
	rw := &RotatingWriter{
		path: path,
		cfg:  cfg,
		max:  int64(cfg.MaxSizeMB) << 20,
	}
	if err := rw.open(); err != nil {
		return nil, err
	}
	return rw, nil
}

func (rw *RotatingWriter) open() error {
	if err := os.MkdirAll(filepath.Dir(rw.path), 0o755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}
	f, err := os.OpenFile(rw.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	st, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to stat log file: %w", err)
	}
	rw.f, rw.size = f, st.Size()
	return nil
}

// Write implements io.Writer. A failed rotation is reported on stderr and
// the entry goes to whichever file is open.
func (rw *RotatingWriter) Write(p []byte) (int, error) {
	rw.mu.Lock()
	defer rw.mu.Unlock()

	if rw.f == nil {
		return 0, errWriterClosed
	}
	if rw.max > 0 && rw.size > 0 && rw.size+int64(len(p)) > rw.max {
		if err := rw.rotate(); err != nil {
			fmt.Fprintf(os.Stderr, "dispatch: log rotation failed: %v\n", err)
			if rw.f == nil {
				return 0, err
			}
		}
	}
	n, err := rw.f.Write(p)
	rw.size += int64(n)
	return n, err
}

func (rw *RotatingWriter) rotate() error {
	if err := rw.f.Close(); err != nil {
		return fmt.Errorf("failed to close log file: %w", err)
	}
	rw.f = nil

	if rw.cfg.MaxBackups <= 0 {
		_ = os.Remove(rw.path)
		return rw.open()
	}

	rw.shift()
	first := rw.backup(1)
	renameErr := os.Rename(rw.path, first)
	if err := rw.open(); err != nil {
		return err
	}
	if renameErr != nil {
		return fmt.Errorf("failed to rename log file: %w", renameErr)
	}
	if rw.cfg.Compress {
		rw.gzip.Add(1)
		go func() {
			defer rw.gzip.Done()
			if err := gzipFile(first); err != nil {
				fmt.Fprintf(os.Stderr, "dispatch: log compression failed: %v\n", err)
			}
		}()
	}
	return nil
}

// shift moves backup i to i+1, oldest first, dropping the last one. A backup
// may exist plain or gzipped.
func (rw *RotatingWriter) shift() {
	last := rw.backup(rw.cfg.MaxBackups)
	_ = os.Remove(last)
	_ = os.Remove(last + ".gz")

	for i := rw.cfg.MaxBackups - 1; i >= 1; i-- {
		for _, ext := range []string{"", ".gz"} {
			from := rw.backup(i) + ext
			if _, err := os.Stat(from); err == nil {
				_ = os.Rename(from, rw.backup(i+1)+ext)
			}
		}
	}
}

func (rw *RotatingWriter) backup(n int) string {
	return rw.path + "." + strconv.Itoa(n)
}

// gzipFile writes path.gz and removes path once the copy is complete.
func gzipFile(path string) error {
	src, err := os.Open(path)
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := os.Create(path + ".gz")
	if err != nil {
		return err
	}
	zw := gzip.NewWriter(dst)
	_, err = io.Copy(zw, src)
	err = errors.Join(err, zw.Close(), dst.Close())
	if err != nil {
		_ = os.Remove(path + ".gz")
		return err
	}
	return os.Remove(path)
}

// Close waits for background compression, then syncs and closes the file.
// Later writes fail.
func (rw *RotatingWriter) Close() error {
	rw.mu.Lock()
	defer rw.mu.Unlock()

	rw.gzip.Wait()
	if rw.f == nil {
		return nil
	}
	f := rw.f
	rw.f = nil
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to sync log file: %w", err)
	}
	return f.Close()
}

// CurrentSize returns the size of the active file in bytes.
func (rw *RotatingWriter) CurrentSize() int64 {
	rw.mu.Lock()
	defer rw.mu.Unlock()
	return rw.size
}

// FilePath returns the active file's path.
func (rw *RotatingWriter) FilePath() string {
	return rw.path
}
