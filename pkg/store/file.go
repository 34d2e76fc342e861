package store

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/NicolasHaas/gorelay/pkg/model"
)

// FileStore keeps one banned name per line in a plain text file.
type FileStore struct {
	mu   sync.Mutex
	path string
}

// NewFile returns a file-backed store. The file is created on first ban;
// a missing file means nobody is banned.
func NewFile(path string) (*FileStore, error) {
	if path == "" {
		return nil, errors.New("store: empty ban file path")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("store: create ban file dir: %w", err)
		}
	}
	return &FileStore{path: path}, nil
}

// Path returns the backing file.
func (s *FileStore) Path() string {
	return s.path
}

// IsBanned rereads the whole file.
func (s *FileStore) IsBanned(_ context.Context, name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	found := false
	err := s.scan(func(line string) bool {
		if line == name {
			found = true
			return false
		}
		return true
	})
	return found, err
}

// Add appends ban.Name as a new line. Only the name is persisted.
func (s *FileStore) Add(_ context.Context, ban model.Ban) error {
	if err := validateBan(ban); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.OpenFile(s.path, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0o600)
	if err != nil {
		return fmt.Errorf("store: open ban file: %w", err)
	}
	defer f.Close()

	line := ban.Name + "\n"
	// A hand-edited file may lack the trailing newline.
	if info, err := f.Stat(); err == nil && info.Size() > 0 {
		last := make([]byte, 1)
		if _, err := f.ReadAt(last, info.Size()-1); err == nil && last[0] != '\n' {
			line = "\n" + line
		}
	}
	if _, err := f.WriteString(line); err != nil {
		return fmt.Errorf("store: append ban: %w", err)
	}
	return nil
}

// List returns every distinct name, sorted.
func (s *FileStore) List(_ context.Context) ([]model.Ban, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var bans []model.Ban
	err := s.scan(func(line string) bool {
		bans = append(bans, model.Ban{Name: line})
		return true
	})
	if err != nil {
		return nil, err
	}
	return sortBans(bans), nil
}

// Close is a no-op; the file is opened per operation.
func (s *FileStore) Close() error {
	return nil
}

// scan calls fn for each non-empty line until fn returns false.
func (s *FileStore) scan(fn func(line string) bool) error {
	f, err := os.Open(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("store: open ban file: %w", err)
	}
	defer f.Close()

	r := bufio.NewReader(f)
	for {
		line, err := r.ReadString('\n')
		line = strings.TrimRight(line, "\r\n")
		if line != "" && !fn(line) {
			return nil
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("store: read ban file: %w", err)
		}
	}
}
