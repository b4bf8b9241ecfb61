package store

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"
)

// FileStore keeps each blob in its own file under dir.
type FileStore struct {
	dir    string
	opts   options
	warned sync.Map // file name -> struct{}
}

// NewFileStore returns a store rooted at dir. The directory is created on
// first write.
func NewFileStore(dir string, opts ...Option) (*FileStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("store: empty directory")
	}
	return &FileStore{dir: dir, opts: buildOptions(opts)}, nil
}

// Dir returns the store directory.
func (s *FileStore) Dir() string {
	return s.dir
}

// ReadAll implements Store.
func (s *FileStore) ReadAll(name string) ([]byte, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}
	path := filepath.Join(s.dir, name)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("store: failed to read %s: %w", name, err)
	}
	s.warnPermissions(path)
	return data, nil
}

// AtomicWriteAll writes to a temp file in the same directory, syncs it and
// renames it over the target.
func (s *FileStore) AtomicWriteAll(name string, data []byte) error {
	if err := validateName(name); err != nil {
		return err
	}
	if err := os.MkdirAll(s.dir, DirMode); err != nil {
		return fmt.Errorf("store: failed to create directory: %w", err)
	}
	if err := s.checkDiskSpaceForWrite(len(data)); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(s.dir, "."+name+".tmp-*")
	if err != nil {
		return fmt.Errorf("store: failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = tmp.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	if err := tmp.Chmod(FileMode); err != nil && runtime.GOOS != "windows" {
		return fmt.Errorf("store: failed to set permissions: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		return fmt.Errorf("store: failed to write %s: %w", name, err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("store: failed to sync %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("store: failed to close %s: %w", name, err)
	}
	if err := os.Rename(tmpPath, filepath.Join(s.dir, name)); err != nil {
		return fmt.Errorf("store: failed to replace %s: %w", name, err)
	}
	committed = true

	syncDir(s.dir)
	return nil
}

// Exists implements Store.
func (s *FileStore) Exists(name string) (bool, error) {
	if err := validateName(name); err != nil {
		return false, err
	}
	_, err := os.Stat(filepath.Join(s.dir, name))
	switch {
	case err == nil:
		return true, nil
	case os.IsNotExist(err):
		return false, nil
	default:
		return false, fmt.Errorf("store: failed to stat %s: %w", name, err)
	}
}

// Remove implements Store.
func (s *FileStore) Remove(name string) error {
	if err := validateName(name); err != nil {
		return err
	}
	err := os.Remove(filepath.Join(s.dir, name))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("store: failed to remove %s: %w", name, err)
	}
	return nil
}

// Close implements Store. FileStore holds no open handles.
func (s *FileStore) Close() error {
	return nil
}

// warnPermissions logs once per file when group or other bits are set.
func (s *FileStore) warnPermissions(path string) {
	if runtime.GOOS == "windows" {
		return
	}
	if _, seen := s.warned.LoadOrStore(path, struct{}{}); seen {
		return
	}
	if info, err := os.Stat(s.dir); err == nil {
		if perm := info.Mode().Perm(); perm&0077 != 0 {
			s.opts.log.Warn().Str("path", s.dir).Msgf("directory has insecure permissions %04o (expected 0700)", perm)
		}
	}
	if info, err := os.Stat(path); err == nil {
		if perm := info.Mode().Perm(); perm&0077 != 0 {
			s.opts.log.Warn().Str("path", path).Msgf("file has insecure permissions %04o (expected 0600)", perm)
		}
	}
}

// checkDiskSpaceForWrite verifies sufficient disk space before write operations
func (s *FileStore) checkDiskSpaceForWrite(dataSize int) error {
	return checkDiskSpaceForWrite(s.dir, dataSize, s.opts)
}

func checkDiskSpaceForWrite(dir string, dataSize int, o options) error {
	info, err := CheckDiskSpace(dir)
	if err != nil {
		// Log warning but don't block operation
		o.log.Warn().Err(err).Msg("failed to check disk space")
		return nil
	}

	// Need at least MinDiskSpaceBytes or 2x the data size, whichever is larger
	required := uint64(MinDiskSpaceBytes)
	if uint64(dataSize*2) > required {
		required = uint64(dataSize * 2)
	}

	if info.Available < required {
		return fmt.Errorf("%w: only %d MB available, need at least %d MB",
			ErrInsufficientDisk,
			info.Available/(1024*1024),
			required/(1024*1024))
	}

	if info.UsedPct >= DiskWarningPercent {
		o.log.Warn().Int("used_pct", info.UsedPct).Msg("disk is nearly full, consider freeing space")
	}
	return nil
}

// syncDir flushes the rename to disk where the platform allows it.
func syncDir(dir string) {
	if runtime.GOOS == "windows" {
		return
	}
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	_ = d.Sync()
	_ = d.Close()
}
