//go:build !gcp

package store

import (
	"context"
	"fmt"
)

func newGCSAuditStore(_ context.Context, _, _ string) (AuditStore, error) {
	return nil, fmt.Errorf("GCS audit storage is not enabled in this build (use -tags gcp)")
}
