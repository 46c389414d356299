package snapstore

import (
	"context"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog"
)

type localStore struct {
	logger   zerolog.Logger
	basePath string
}

func NewLocalStore(logger zerolog.Logger, basePath string) (*localStore, error) {
	if err := os.MkdirAll(basePath, os.ModePerm); err != nil {
		return nil, err
	}
	return &localStore{logger: logger, basePath: basePath}, nil
}

func (s *localStore) Read(ctx context.Context, key string) (io.ReadCloser, error) {
	f, err := os.Open(filepath.Join(s.basePath, key))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, errors.Wrapf(ErrNotExist, "%s", key)
		}
		return nil, err
	}
	return f, nil
}

// Write lands in a temporary file first so a crash mid-write never clobbers
// the previous object.
func (s *localStore) Write(ctx context.Context, key string, r io.Reader) (string, error) {
	p := filepath.Join(s.basePath, key)
	tmp := p + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(f, r); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return "", err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return "", err
	}
	if err := os.Rename(tmp, p); err != nil {
		_ = os.Remove(tmp)
		return "", err
	}
	s.logger.Debug().Str("path", p).Msgf("wrote file")
	return p, nil
}

func (s *localStore) Delete(ctx context.Context, key string) error {
	err := os.Remove(filepath.Join(s.basePath, key))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}
