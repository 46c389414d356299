// Package snapstore persists per-layer snapshot artifacts: the snapshot
// GeoJSON itself, the change report and the changed-feature archive. A
// target names where they live: a local directory, an s3:// bucket or a
// gs:// bucket, optionally with a key prefix.
package snapstore

import (
	"context"
	"io"
	"net/url"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
)

// ErrNotExist reports a key with no stored object. Reads of a layer that has
// never been snapshotted end here.
var ErrNotExist = errors.New("object does not exist")

// Store reads and writes snapshot artifacts by key.
type Store interface {
	// Read opens the object at key. The error is ErrNotExist when the key
	// has no object.
	Read(ctx context.Context, key string) (io.ReadCloser, error)
	// Write replaces the object at key and returns its location for logs.
	Write(ctx context.Context, key string, r io.Reader) (string, error)
	// Delete removes the object at key. Deleting an absent key is not an
	// error.
	Delete(ctx context.Context, key string) error
}

// SnapshotKey is where a layer's current snapshot lives.
func SnapshotKey(outLayer string) string {
	return outLayer + ".geojson"
}

// ReportKey is where a layer's latest change report lives.
func ReportKey(outLayer string) string {
	return outLayer + ".report.json"
}

// ChangesKey is where a layer's latest changed-feature archive lives.
func ChangesKey(outLayer string) string {
	return outLayer + ".changes.zip"
}

// NewStore builds the store a target string names. s3://bucket/prefix and
// gs://bucket/prefix name object stores; anything else is a local directory.
func NewStore(ctx context.Context, logger zerolog.Logger, target string) (Store, error) {
	u, err := url.Parse(target)
	if err != nil {
		return nil, errors.Wrapf(err, "error parsing target %q", target)
	}
	switch u.Scheme {
	case "s3":
		sess, err := session.NewSession()
		if err != nil {
			return nil, err
		}
		return NewS3Store(logger, sess, u.Host, strings.Trim(u.Path, "/")), nil
	case "gs":
		creds, err := google.FindDefaultCredentials(ctx, storage.ScopeReadWrite)
		if err != nil {
			return nil, errors.Wrap(err, "error finding google credentials")
		}
		client, err := storage.NewClient(ctx, option.WithCredentials(creds))
		if err != nil {
			return nil, err
		}
		return NewGCSStore(logger, client, u.Host, strings.Trim(u.Path, "/")), nil
	case "", "file":
		p := target
		if u.Scheme == "file" {
			p = u.Path
		}
		return NewLocalStore(logger, p)
	default:
		return nil, errors.Newf("unsupported target scheme %q", u.Scheme)
	}
}
