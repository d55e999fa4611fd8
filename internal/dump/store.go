// Package dump owns the directory that receives script sources pulled from
// the runtime. One proxy process holds a flock on the directory while it runs.
package dump

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gofrs/flock"
	"github.com/sirupsen/logrus"

	"github.com/standardbeagle/wincc-debug-proxy/internal/logging"
	"github.com/standardbeagle/wincc-debug-proxy/internal/target"
)

const (
	lockFileName = ".wincc-proxy.lock"

	DefaultDirMode  = 0755
	DefaultFileMode = 0644
)

var (
	// ErrLocked means another proxy process already dumps into the directory
	ErrLocked = errors.New("dump directory is in use by another proxy")

	// ErrOutsideDir rejects script URLs that would resolve outside the
	// category directory.
	ErrOutsideDir = errors.New("script path escapes dump directory")
)

var unsafeChars = strings.NewReplacer(
	":", "_",
	"*", "_",
	"?", "_",
	`"`, "_",
	"<", "_",
	">", "_",
	"|", "_",
)

// Store writes dumped scripts below <dir>/<Category>/
type Store struct {
	dir  string
	lock *flock.Flock
	log  logrus.FieldLogger
}

// Open creates dir if needed and takes the ownership lock
func Open(dir string, log logrus.FieldLogger) (*Store, error) {
	if err := os.MkdirAll(dir, DefaultDirMode); err != nil {
		return nil, fmt.Errorf("failed to create dump directory: %w", err)
	}

	lock := flock.New(filepath.Join(dir, lockFileName))
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("failed to lock dump directory: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("%s: %w", dir, ErrLocked)
	}

	return &Store{dir: dir, lock: lock, log: log}, nil
}

// Dir returns the root dump directory
func (s *Store) Dir() string {
	return s.dir
}

// Close releases the ownership lock
func (s *Store) Close() error {
	return s.lock.Unlock()
}

// Clean removes everything dumped for one category
func (s *Store) Clean(category target.Category) error {
	dir := filepath.Join(s.dir, category.String())
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("failed to clean %s: %w", dir, err)
	}
	logging.Tagged(s.log, logging.TagDump).Debugf("Cleaned %s", dir)
	return nil
}

// CleanAll cleans every category directory
func (s *Store) CleanAll() error {
	var errs []error
	for _, c := range target.Categories {
		errs = append(errs, s.Clean(c))
	}
	return errors.Join(errs...)
}

// Dumpable reports whether a script URL names a real file. Anonymous
// evaluations ("eval-<n>.cdp") and empty URLs are skipped.
func Dumpable(scriptURL string) bool {
	if scriptURL == "" {
		return false
	}
	return !(strings.HasPrefix(scriptURL, "eval-") && strings.HasSuffix(scriptURL, ".cdp"))
}

// Sanitize replaces characters Windows refuses in file names
func Sanitize(scriptURL string) string {
	return unsafeChars.Replace(scriptURL)
}

// Path maps a script URL to its file below the category directory
func (s *Store) Path(category target.Category, scriptURL string) (string, error) {
	base := filepath.Join(s.dir, category.String())
	p := filepath.Join(base, filepath.FromSlash(Sanitize(scriptURL)))

	rel, err := filepath.Rel(base, p)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%q: %w", scriptURL, ErrOutsideDir)
	}
	return p, nil
}

// Write stores a script source at path, creating parent directories
func (s *Store) Write(path, source string) error {
	if err := writeFileAtomic(path, []byte(source), DefaultFileMode); err != nil {
		return err
	}
	logging.Tagged(s.log, logging.TagDump).Debug(path)
	return nil
}

// writeFileAtomic writes through a temp file in the target directory and
// renames it into place so readers never see a partial script.
func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, DefaultDirMode); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	tempFile, err := os.CreateTemp(dir, ".tmp-")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tempPath := tempFile.Name()

	defer func() {
		if tempFile != nil {
			tempFile.Close()
			os.Remove(tempPath)
		}
	}()

	if _, err := tempFile.Write(data); err != nil {
		return fmt.Errorf("failed to write data: %w", err)
	}
	if err := tempFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	tempFile = nil

	if err := os.Chmod(tempPath, perm); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to set permissions: %w", err)
	}
	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to rename file: %w", err)
	}
	return nil
}
