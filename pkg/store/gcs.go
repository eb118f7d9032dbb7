//go:build gcp

package store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"

	"github.com/Mindburn-Labs/lattice/pkg/contracts"
)

// GCSAuditStore writes one JSON object per session to Cloud Storage.
type GCSAuditStore struct {
	client *storage.Client
	bucket string
	prefix string
}

// NewGCSAuditStore uses application default credentials.
func NewGCSAuditStore(ctx context.Context, bucket, prefix string) (*GCSAuditStore, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS client: %w", err)
	}
	return &GCSAuditStore{client: client, bucket: bucket, prefix: prefix}, nil
}

func newGCSAuditStore(ctx context.Context, bucket, prefix string) (AuditStore, error) {
	s, err := NewGCSAuditStore(ctx, bucket, prefix)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Append uploads the entry with a does-not-exist precondition, so a
// concurrent or repeated write for the same session is a no-op.
func (s *GCSAuditStore) Append(ctx context.Context, e contracts.AuditEntry) error {
	doc, err := encodeEntry(e)
	if err != nil {
		return err
	}

	obj := s.client.Bucket(s.bucket).Object(objectKey(s.prefix, e.SessionID))
	if _, err := obj.Attrs(ctx); err == nil {
		return nil
	} else if !errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("gcs attrs error: %w", err)
	}

	w := obj.If(storage.Conditions{DoesNotExist: true}).NewWriter(ctx)
	w.ContentType = "application/json"
	w.Metadata = map[string]string{
		"audit-id":     e.AuditID,
		"content-hash": e.ContentHash,
	}
	if _, err := w.Write([]byte(doc)); err != nil {
		_ = w.Close()
		return fmt.Errorf("gcs write failed: %w", err)
	}
	if err := w.Close(); err != nil {
		var gerr *googleapi.Error
		if errors.As(err, &gerr) && gerr.Code == http.StatusPreconditionFailed {
			return nil
		}
		return fmt.Errorf("gcs close failed: %w", err)
	}
	return nil
}

// Get downloads the entry recorded for sessionID.
func (s *GCSAuditStore) Get(ctx context.Context, sessionID string) (contracts.AuditEntry, error) {
	reader, err := s.client.Bucket(s.bucket).Object(objectKey(s.prefix, sessionID)).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return contracts.AuditEntry{}, ErrNotFound
		}
		return contracts.AuditEntry{}, fmt.Errorf("gcs get failed for %s: %w", sessionID, err)
	}
	defer func() { _ = reader.Close() }()

	raw, err := io.ReadAll(reader)
	if err != nil {
		return contracts.AuditEntry{}, fmt.Errorf("gcs read %s: %w", sessionID, err)
	}
	return decodeEntry(raw)
}

func (s *GCSAuditStore) Close() error { return s.client.Close() }
