package identity

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/AnshRaj112/shadowmatch-backend/internal/logger"
)

// FileStorage keeps one file per key under Dir. Several processes pointing at the
// same Dir share an origin; fsnotify provides the change feed between them.
type FileStorage struct {
	Dir string
}

func NewFileStorage(dir string) (*FileStorage, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return &FileStorage{Dir: dir}, nil
}

func (s *FileStorage) path(key string) string {
	return filepath.Join(s.Dir, key)
}

func (s *FileStorage) Get(key string) (string, bool, error) {
	b, err := os.ReadFile(s.path(key))
	if errors.Is(err, os.ErrNotExist) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return string(b), true, nil
}

// Set writes through a temp file and rename so readers never see a partial value.
func (s *FileStorage) Set(key, value string) error {
	tmp, err := os.CreateTemp(s.Dir, "."+key+".*")
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	if _, err := tmp.WriteString(value); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	if err := os.Rename(tmp.Name(), s.path(key)); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return nil
}

func (s *FileStorage) Remove(key string) error {
	err := os.Remove(s.path(key))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return nil
}

// Watch reports changes to any key file in Dir, including this process's own
// writes. Consumers compare values before reacting.
func (s *FileStorage) Watch(ctx context.Context) (<-chan Change, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	if err := w.Add(s.Dir); err != nil {
		w.Close()
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}

	out := make(chan Change, 16)
	log := logger.Named("identity.filestore")

	go func() {
		defer close(out)
		defer w.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				key := filepath.Base(ev.Name)
				if strings.HasPrefix(key, ".") {
					continue // temp files
				}
				var c Change
				switch {
				case ev.Op&(fsnotify.Create|fsnotify.Write) != 0:
					v, found, err := s.Get(key)
					if err != nil || !found {
						continue
					}
					c = Change{Key: key, Value: v}
				case ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
					c = Change{Key: key, Deleted: true}
				default:
					continue
				}
				select {
				case out <- c:
				case <-ctx.Done():
					return
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				log.Warn("watch error", zap.Error(err))
			}
		}
	}()
	return out, nil
}
