package storage

import (
	"context"
	"fmt"

	_ "gocloud.dev/blob/gcsblob" // GCS driver
)

// NewGCSStore opens a Google Cloud Storage bucket using application default
// credentials.
func NewGCSStore(bucketName, prefix string) (*BlobStore, error) {
	return OpenBlobStore(context.Background(), fmt.Sprintf("gs://%s", bucketName), prefix)
}
