package objectclient

import (
	"context"
	"fmt"

	cfg "github.com/markdave123-py/kbparse/internal/config"
	"github.com/markdave123-py/kbparse/internal/core"
)

// New builds the object client selected by OBJECT_STORE.
func New(ctx context.Context, c *cfg.Config) (core.ObjectClient, error) {
	switch c.ObjectStore {
	case "minio":
		return NewMinioClient(c)
	case "s3":
		return NewS3Client(ctx, c)
	default:
		return nil, fmt.Errorf("unknown object store %q", c.ObjectStore)
	}
}
