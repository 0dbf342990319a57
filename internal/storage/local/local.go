// Package local provides a local filesystem blob storage backend.
//
// User metadata, content type and content encoding are persisted in a
// JSON sidecar next to each object so the backend satisfies the same
// contract as S3. Sidecars are invisible to listings.
package local

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/vwake01/ai-dial-core/internal/storage"
)

const metaSuffix = ".meta"

// Config holds local filesystem backend settings.
type Config struct {
	RootPath string
}

// Backend implements storage.BlobStore using the local filesystem.
type Backend struct {
	rootPath string
}

// sidecar is the on-disk metadata record stored next to each object.
type sidecar struct {
	ContentType     string            `json:"content_type"`
	ContentEncoding string            `json:"content_encoding,omitempty"`
	UserMetadata    map[string]string `json:"user_metadata,omitempty"`
	Created         time.Time         `json:"created"`
}

// New creates a new local filesystem backend.
func New(cfg Config) (*Backend, error) {
	if cfg.RootPath == "" {
		return nil, fmt.Errorf("root path is required")
	}
	if err := os.MkdirAll(cfg.RootPath, 0755); err != nil {
		return nil, fmt.Errorf("create root path %s: %w", cfg.RootPath, err)
	}
	return &Backend{rootPath: cfg.RootPath}, nil
}

func (b *Backend) fullPath(key string) string {
	return filepath.Join(b.rootPath, filepath.FromSlash(key))
}

func (b *Backend) readSidecar(key string) (sidecar, error) {
	var sc sidecar
	data, err := os.ReadFile(b.fullPath(key) + metaSuffix)
	if err != nil {
		if os.IsNotExist(err) {
			return sc, nil
		}
		return sc, fmt.Errorf("read sidecar %s: %w", key, err)
	}
	if err := json.Unmarshal(data, &sc); err != nil {
		return sc, fmt.Errorf("parse sidecar %s: %w", key, err)
	}
	return sc, nil
}

// Exists checks if an object exists at the given key.
func (b *Backend) Exists(_ context.Context, key string) (bool, error) {
	info, err := os.Stat(b.fullPath(key))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("stat %s: %w", key, err)
	}
	return !info.IsDir(), nil
}

// Meta retrieves object metadata without the payload. Returns nil for a
// missing object.
func (b *Backend) Meta(_ context.Context, key string) (*storage.ObjectMeta, error) {
	info, err := os.Stat(b.fullPath(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("stat %s: %w", key, err)
	}
	if info.IsDir() {
		return nil, nil
	}

	sc, err := b.readSidecar(key)
	if err != nil {
		return nil, err
	}

	return &storage.ObjectMeta{
		Key:             key,
		Type:            storage.EntryBlob,
		ContentType:     sc.ContentType,
		ContentEncoding: sc.ContentEncoding,
		UserMetadata:    sc.UserMetadata,
		Created:         sc.Created,
		LastModified:    info.ModTime(),
		Size:            info.Size(),
	}, nil
}

// Load retrieves an object with its payload. Returns nil for a missing
// object.
func (b *Backend) Load(ctx context.Context, key string) (*storage.Object, error) {
	meta, err := b.Meta(ctx, key)
	if err != nil || meta == nil {
		return nil, err
	}

	data, err := os.ReadFile(b.fullPath(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read %s: %w", key, err)
	}

	return &storage.Object{ObjectMeta: *meta, Data: data}, nil
}

// Store writes an object and its sidecar atomically (temp file then
// rename). The creation time survives overwrites.
func (b *Backend) Store(_ context.Context, key, contentType, contentEncoding string, userMeta map[string]string, data []byte) error {
	path := b.fullPath(key)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create dirs for %s: %w", key, err)
	}

	sc, err := b.readSidecar(key)
	if err != nil {
		return err
	}
	created := sc.Created
	if created.IsZero() {
		created = time.Now()
	}

	if err := writeAtomic(path, data); err != nil {
		return fmt.Errorf("write %s: %w", key, err)
	}

	scData, err := json.Marshal(sidecar{
		ContentType:     contentType,
		ContentEncoding: contentEncoding,
		UserMetadata:    userMeta,
		Created:         created,
	})
	if err != nil {
		return fmt.Errorf("marshal sidecar %s: %w", key, err)
	}
	if err := writeAtomic(path+metaSuffix, scData); err != nil {
		return fmt.Errorf("write sidecar %s: %w", key, err)
	}
	return nil
}

// Delete removes an object and its sidecar, then prunes empty parent
// directories so listings mirror S3 prefix semantics.
func (b *Backend) Delete(_ context.Context, key string) error {
	path := b.fullPath(key)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	if err := os.Remove(path + metaSuffix); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete sidecar %s: %w", key, err)
	}

	dir := filepath.Dir(path)
	for dir != b.rootPath && strings.HasPrefix(dir, b.rootPath) {
		if err := os.Remove(dir); err != nil {
			break // not empty or already gone
		}
		dir = filepath.Dir(dir)
	}
	return nil
}

// List returns one page of entries directly under the given prefix. The
// prefix names a folder ("" for the root, otherwise ending in "/"). The
// page token is the last key of the previous page.
func (b *Backend) List(ctx context.Context, prefix, token string, limit int) (*storage.Page, error) {
	dir := b.rootPath
	if prefix != "" {
		dir = b.fullPath(strings.TrimSuffix(prefix, "/"))
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return &storage.Page{}, nil
		}
		return nil, fmt.Errorf("list %s: %w", prefix, err)
	}

	keys := make([]string, 0, len(entries))
	folders := make(map[string]bool)
	for _, e := range entries {
		name := e.Name()
		if strings.HasSuffix(name, metaSuffix) {
			continue
		}
		key := prefix + name
		if e.IsDir() {
			key += "/"
			folders[key] = true
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)

	page := &storage.Page{}
	for _, key := range keys {
		if token != "" && key <= token {
			continue
		}
		if limit > 0 && len(page.Entries) == limit {
			page.NextToken = page.Entries[len(page.Entries)-1].Key
			break
		}
		if folders[key] {
			page.Entries = append(page.Entries, storage.ObjectMeta{
				Key:  key,
				Type: storage.EntryFolder,
			})
			continue
		}
		meta, err := b.Meta(ctx, key)
		if err != nil {
			return nil, err
		}
		if meta == nil {
			continue // deleted mid-listing
		}
		page.Entries = append(page.Entries, *meta)
	}
	return page, nil
}

// Type returns "local".
func (b *Backend) Type() string { return "local" }

// Close is a no-op for local backends.
func (b *Backend) Close() error { return nil }

func writeAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}
