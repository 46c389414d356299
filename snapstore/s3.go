package snapstore

import (
	"context"
	"fmt"
	"io"
	"path"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog"
)

type s3Store struct {
	logger  zerolog.Logger
	session *session.Session
	bucket  string
	prefix  string
}

func NewS3Store(logger zerolog.Logger, session *session.Session, bucket string, prefix string) *s3Store {
	return &s3Store{
		logger:  logger,
		session: session,
		bucket:  bucket,
		prefix:  prefix,
	}
}

func (s *s3Store) objectKey(key string) string {
	return path.Join(s.prefix, key)
}

func (s *s3Store) Read(ctx context.Context, key string) (io.ReadCloser, error) {
	out, err := s3.New(s.session).GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(key)),
	})
	if err != nil {
		var aerr awserr.Error
		if errors.As(err, &aerr) && aerr.Code() == s3.ErrCodeNoSuchKey {
			return nil, errors.Wrapf(ErrNotExist, "%s", key)
		}
		return nil, err
	}
	return out.Body, nil
}

func (s *s3Store) Write(ctx context.Context, key string, r io.Reader) (string, error) {
	objectKey := s.objectKey(key)
	s.logger.Debug().Str("file", objectKey).Msgf("creating new file")
	if _, err := s3manager.NewUploader(s.session).UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(objectKey),
		Body:   r,
	}); err != nil {
		return "", err
	}
	return fmt.Sprintf("s3://%s/%s", s.bucket, objectKey), nil
}

func (s *s3Store) Delete(ctx context.Context, key string) error {
	// S3 deletes of absent keys succeed, matching the interface contract.
	_, err := s3.New(s.session).DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(key)),
	})
	return err
}
