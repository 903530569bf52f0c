// Package blobstore is the in-process object store used when CatScan runs
// without MinIO. Presigned uploads are HMAC-signed URLs served by the api
// package, and created objects fan out to watchers like bucket notifications.
package blobstore

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dharsanguruparan/catscan/internal/signing"
)

// ErrNotFound is returned for unknown keys.
var ErrNotFound = errors.New("object not found")

// UploadPath is the HTTP route prefix that receives signed uploads.
const UploadPath = "/local-uploads/"

type object struct {
	data        []byte
	contentType string
}

type watcher struct {
	prefix string
	fn     func(ctx context.Context, key string)
}

// Memory stores objects in a map.
type Memory struct {
	mu       sync.RWMutex
	objects  map[string]object
	watchers []watcher
	signer   *signing.Signer
	baseURL  string
}

// NewMemory creates a store whose presigned URLs start with baseURL.
func NewMemory(signer *signing.Signer, baseURL string) *Memory {
	return &Memory{
		objects: make(map[string]object),
		signer:  signer,
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

// PutImage stores a copy of data and notifies watchers whose prefix matches.
func (m *Memory) PutImage(ctx context.Context, key string, data []byte, contentType string) error {
	buf := make([]byte, len(data))
	copy(buf, data)
	m.mu.Lock()
	m.objects[key] = object{data: buf, contentType: contentType}
	watchers := append([]watcher(nil), m.watchers...)
	m.mu.Unlock()
	for _, w := range watchers {
		if strings.HasPrefix(key, w.prefix) {
			w.fn(ctx, key)
		}
	}
	return nil
}

// GetImage returns a copy of the stored bytes.
func (m *Memory) GetImage(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	obj, ok := m.objects[key]
	if !ok {
		return nil, fmt.Errorf("get image object %s: %w", key, ErrNotFound)
	}
	out := make([]byte, len(obj.data))
	copy(out, obj.data)
	return out, nil
}

// ContentType returns the stored content type for key.
func (m *Memory) ContentType(key string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	obj, ok := m.objects[key]
	return obj.contentType, ok
}

// PresignUpload returns a signed URL accepted by Receive.
func (m *Memory) PresignUpload(_ context.Context, key, _ string, ttl time.Duration) (string, error) {
	q := m.signer.Query(key, ttl)
	return m.baseURL + UploadPath + key + "?" + q.Encode(), nil
}

// Receive validates a signed upload and stores the body.
func (m *Memory) Receive(ctx context.Context, key string, q url.Values, data []byte, contentType string) error {
	if err := m.signer.Verify(key, q); err != nil {
		return err
	}
	return m.PutImage(ctx, key, data, contentType)
}

// Watch registers fn for objects created under prefix.
func (m *Memory) Watch(prefix string, fn func(ctx context.Context, key string)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.watchers = append(m.watchers, watcher{prefix: prefix, fn: fn})
}

// ListKeys returns the stored keys under prefix in lexical order.
func (m *Memory) ListKeys(_ context.Context, prefix string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.objects))
	for k := range m.objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Len reports the number of stored objects.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.objects)
}
