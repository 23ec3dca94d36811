package transport

import (
	"context"
	"fmt"
	"path"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// GCSMailbox drops files into a bucket under <Prefix>/<Folder>.
type GCSMailbox struct {
	Client *storage.Client
	Bucket string
	Prefix string
	Folder string
}

// NewGCSClient builds a storage client. An empty credentials file uses
// application default credentials.
func NewGCSClient(ctx context.Context, credentialsFile string) (*storage.Client, error) {
	opts := []option.ClientOption{option.WithScopes(storage.ScopeReadWrite)}
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	c, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating storage client: %w", err)
	}
	return c, nil
}

// Send uploads the file. Existing objects are never overwritten.
func (m GCSMailbox) Send(ctx context.Context, f File) (Receipt, error) {
	key := path.Join(m.Prefix, m.Folder, f.Name)
	obj := m.Client.Bucket(m.Bucket).Object(key).If(storage.Conditions{DoesNotExist: true})

	w := obj.NewWriter(ctx)
	w.ContentType = f.ContentType
	if w.ContentType == "" {
		w.ContentType = "application/octet-stream"
	}
	if _, err := w.Write(f.Data); err != nil {
		_ = w.Close()
		return Receipt{}, fmt.Errorf("uploading %s: %w", key, err)
	}
	if err := w.Close(); err != nil {
		return Receipt{}, fmt.Errorf("finishing upload of %s: %w", key, err)
	}

	attrs := w.Attrs()
	ref := key
	if attrs != nil {
		ref = fmt.Sprintf("%s#%d", key, attrs.Generation)
	}
	return Receipt{Reference: ref, Location: fmt.Sprintf("gs://%s/%s", m.Bucket, key)}, nil
}
