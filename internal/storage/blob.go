// Package storage defines the BlobStore interface for durable object
// storage and the metadata and listing types its backends share. The
// backends live in the s3 and local subpackages.
package storage

import (
	"context"
	"time"
)

// EntryType distinguishes blobs from folder prefixes in listings.
type EntryType int

const (
	EntryBlob EntryType = iota
	EntryFolder
)

// ObjectMeta describes a stored object or a folder prefix.
type ObjectMeta struct {
	Key             string
	Type            EntryType
	ContentType     string
	ContentEncoding string
	UserMetadata    map[string]string
	Created         time.Time // zero when the backend does not track creation
	LastModified    time.Time
	Size            int64
}

// Object is a loaded blob with its raw (possibly compressed) payload.
type Object struct {
	ObjectMeta
	Data []byte
}

// Page is one page of a prefix listing.
type Page struct {
	Entries   []ObjectMeta
	NextToken string
}

// BlobStore is the interface for durable object storage backends.
// Load and Meta return nil (and no error) for a missing object.
type BlobStore interface {
	// Exists checks if an object exists at the given key.
	Exists(ctx context.Context, key string) (bool, error)

	// Load retrieves an object with its payload.
	Load(ctx context.Context, key string) (*Object, error)

	// Meta retrieves object metadata without the payload.
	Meta(ctx context.Context, key string) (*ObjectMeta, error)

	// Store writes an object with content metadata and user metadata.
	Store(ctx context.Context, key, contentType, contentEncoding string, userMeta map[string]string, data []byte) error

	// Delete removes an object by key.
	Delete(ctx context.Context, key string) error

	// List returns one page of entries under the given prefix. Direct
	// child folders are reported as EntryFolder entries.
	List(ctx context.Context, prefix, token string, limit int) (*Page, error)

	// Type returns the backend type identifier ("s3", "local").
	Type() string

	// Close releases any resources held by the backend.
	Close() error
}
