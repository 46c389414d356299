package snapstore

import (
	"context"
	"fmt"
	"io"
	"path"

	"cloud.google.com/go/storage"
	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog"
)

type gcsStore struct {
	logger zerolog.Logger
	client *storage.Client
	bucket string
	prefix string
}

func NewGCSStore(logger zerolog.Logger, client *storage.Client, bucket string, prefix string) *gcsStore {
	return &gcsStore{
		logger: logger,
		client: client,
		bucket: bucket,
		prefix: prefix,
	}
}

func (s *gcsStore) objectKey(key string) string {
	return path.Join(s.prefix, key)
}

func (s *gcsStore) Read(ctx context.Context, key string) (io.ReadCloser, error) {
	r, err := s.client.Bucket(s.bucket).Object(s.objectKey(key)).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, errors.Wrapf(ErrNotExist, "%s", key)
		}
		return nil, err
	}
	return r, nil
}

func (s *gcsStore) Write(ctx context.Context, key string, r io.Reader) (string, error) {
	objectKey := s.objectKey(key)
	s.logger.Debug().Str("file", objectKey).Msgf("creating new file")
	wc := s.client.Bucket(s.bucket).Object(objectKey).NewWriter(ctx)
	if _, err := io.Copy(wc, r); err != nil {
		return "", err
	}
	if err := wc.Close(); err != nil {
		return "", err
	}
	return fmt.Sprintf("gs://%s/%s", s.bucket, objectKey), nil
}

func (s *gcsStore) Delete(ctx context.Context, key string) error {
	err := s.client.Bucket(s.bucket).Object(s.objectKey(key)).Delete(ctx)
	if err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return err
	}
	return nil
}
