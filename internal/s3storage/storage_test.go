package s3storage

import (
	"context"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dharsanguruparan/catscan/internal/config"
)

func TestPresignUploadSignsKeyOffline(t *testing.T) {
	store, err := New(&config.Config{
		S3Endpoint:  "minio.test:9000",
		S3AccessKey: "access",
		S3SecretKey: "secret",
		S3Region:    "us-east-1",
		ImageBucket: "catscan-images",
	})
	require.NoError(t, err)

	raw, err := store.PresignUpload(context.Background(), "uploads/5f1c6c1e-5a53-4c1e-9b0e-2a0d4b8f2c11.png", "image/png", 15*time.Minute)
	require.NoError(t, err)
	u, err := url.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "minio.test:9000", u.Host)
	assert.Equal(t, "/catscan-images/uploads/5f1c6c1e-5a53-4c1e-9b0e-2a0d4b8f2c11.png", u.Path)
	assert.Equal(t, "900", u.Query().Get("X-Amz-Expires"))
	assert.NotEmpty(t, u.Query().Get("X-Amz-Signature"))
	assert.Contains(t, u.Query().Get("X-Amz-SignedHeaders"), "content-type")
}
