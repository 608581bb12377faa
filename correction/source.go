package correction

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"cloud.google.com/go/storage"
	"github.com/sony/gobreaker/v2"
	"google.golang.org/api/option"
)

// Source fetches correction payloads by relative path.
type Source interface {
	Open(ctx context.Context, name string) (io.ReadCloser, error)
}

// DirSource reads payloads from a local directory tree.
type DirSource struct {
	Root string
}

// Open opens Root/name.
func (d DirSource) Open(_ context.Context, name string) (io.ReadCloser, error) {
	f, err := os.Open(filepath.Join(d.Root, filepath.FromSlash(name)))
	if err != nil {
		return nil, fmt.Errorf("failed to open payload %q: %w", name, err)
	}
	return f, nil
}

// GCSSource reads payloads from a Cloud Storage bucket.
type GCSSource struct {
	client *storage.Client
	Bucket string
	Prefix string
}

// NewGCSSource creates a bucket source. An empty credentials path uses the
// ambient application default credentials.
func NewGCSSource(ctx context.Context, bucket, prefix, credentials string) (*GCSSource, error) {
	var opts []option.ClientOption
	if credentials != "" {
		if _, err := os.Stat(credentials); err != nil {
			return nil, fmt.Errorf("service account key %q: %w", credentials, err)
		}
		opts = append(opts, option.WithCredentialsFile(credentials))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS storage client: %w", err)
	}
	return &GCSSource{client: client, Bucket: bucket, Prefix: prefix}, nil
}

// Open starts reading gs://Bucket/Prefix/name.
func (g *GCSSource) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	object := name
	if g.Prefix != "" {
		object = g.Prefix + "/" + name
	}
	r, err := g.client.Bucket(g.Bucket).Object(object).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read gs://%s/%s: %w", g.Bucket, object, err)
	}
	return r, nil
}

// Close releases the storage client.
func (g *GCSSource) Close() error { return g.client.Close() }

// BreakerSource guards another source with a circuit breaker so a failing
// remote store is not hammered by every worker of a batch submission.
type BreakerSource struct {
	next Source
	cb   *gobreaker.CircuitBreaker[io.ReadCloser]
}

// NewBreakerSource wraps next. The breaker opens after failures consecutive
// errors and probes again after timeout.
func NewBreakerSource(next Source, failures uint32, timeout time.Duration) *BreakerSource {
	settings := gobreaker.Settings{
		Name:    "CorrectionPayload",
		Timeout: timeout,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= failures
		},
	}
	return &BreakerSource{next: next, cb: gobreaker.NewCircuitBreaker[io.ReadCloser](settings)}
}

// Open fetches name through the breaker.
func (b *BreakerSource) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	return b.cb.Execute(func() (io.ReadCloser, error) {
		return b.next.Open(ctx, name)
	})
}

// State reports the breaker state.
func (b *BreakerSource) State() gobreaker.State { return b.cb.State() }

// Fetch opens and decodes the payload of key from src.
func Fetch(ctx context.Context, src Source, key Key) (*Set, error) {
	rc, err := src.Open(ctx, key.File())
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	set, err := LoadSet(rc)
	if err != nil {
		return nil, fmt.Errorf("payload %s: %w", key.File(), err)
	}
	return set, nil
}
