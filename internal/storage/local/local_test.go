package local

import (
	"bytes"
	"context"
	"testing"

	"github.com/vwake01/ai-dial-core/internal/storage"
)

func newTestBackend(t *testing.T) *Backend {
	t.Helper()
	b, err := New(Config{RootPath: t.TempDir()})
	if err != nil {
		t.Fatalf("new backend: %v", err)
	}
	return b
}

func TestStoreLoadRoundTrip(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	userMeta := map[string]string{"created_at": "100", "updated_at": "200"}
	if err := b.Store(ctx, "users/b/files/doc.json", "application/json", "gzip", userMeta, []byte("data")); err != nil {
		t.Fatalf("store: %v", err)
	}

	obj, err := b.Load(ctx, "users/b/files/doc.json")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if obj == nil {
		t.Fatal("stored object should load")
	}
	if !bytes.Equal(obj.Data, []byte("data")) {
		t.Errorf("data = %q, want %q", obj.Data, "data")
	}
	if obj.ContentType != "application/json" {
		t.Errorf("content type = %q", obj.ContentType)
	}
	if obj.ContentEncoding != "gzip" {
		t.Errorf("content encoding = %q", obj.ContentEncoding)
	}
	if obj.UserMetadata["created_at"] != "100" || obj.UserMetadata["updated_at"] != "200" {
		t.Errorf("user metadata = %v", obj.UserMetadata)
	}
}

func TestLoadMissing(t *testing.T) {
	b := newTestBackend(t)

	obj, err := b.Load(context.Background(), "nope.json")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if obj != nil {
		t.Error("missing object should load as nil")
	}

	meta, err := b.Meta(context.Background(), "nope.json")
	if err != nil {
		t.Fatalf("meta: %v", err)
	}
	if meta != nil {
		t.Error("missing object should have nil meta")
	}
}

func TestExists(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	ok, err := b.Exists(ctx, "doc.json")
	if err != nil {
		t.Fatalf("exists: %v", err)
	}
	if ok {
		t.Error("missing object should not exist")
	}

	if err := b.Store(ctx, "doc.json", "application/json", "", nil, []byte("x")); err != nil {
		t.Fatalf("store: %v", err)
	}
	ok, err = b.Exists(ctx, "doc.json")
	if err != nil {
		t.Fatalf("exists: %v", err)
	}
	if !ok {
		t.Error("stored object should exist")
	}
}

func TestCreationTimeSurvivesOverwrite(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	if err := b.Store(ctx, "doc.json", "application/json", "", nil, []byte("v1")); err != nil {
		t.Fatalf("store: %v", err)
	}
	first, err := b.Meta(ctx, "doc.json")
	if err != nil {
		t.Fatalf("meta: %v", err)
	}

	if err := b.Store(ctx, "doc.json", "application/json", "", nil, []byte("v2")); err != nil {
		t.Fatalf("store: %v", err)
	}
	second, err := b.Meta(ctx, "doc.json")
	if err != nil {
		t.Fatalf("meta: %v", err)
	}

	if !second.Created.Equal(first.Created) {
		t.Errorf("creation time changed on overwrite: %v != %v", second.Created, first.Created)
	}
}

func TestDeletePrunesEmptyDirs(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	if err := b.Store(ctx, "users/b/files/sub/doc.json", "application/json", "", nil, []byte("x")); err != nil {
		t.Fatalf("store: %v", err)
	}
	if err := b.Delete(ctx, "users/b/files/sub/doc.json"); err != nil {
		t.Fatalf("delete: %v", err)
	}

	page, err := b.List(ctx, "users/b/files/", "", 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(page.Entries) != 0 {
		t.Errorf("listing after delete = %v, want empty", page.Entries)
	}
}

func TestDeleteMissingIsIdempotent(t *testing.T) {
	b := newTestBackend(t)
	if err := b.Delete(context.Background(), "nope.json"); err != nil {
		t.Fatalf("delete missing: %v", err)
	}
}

func TestListHidesSidecars(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	if err := b.Store(ctx, "users/b/files/doc.json", "application/json", "", map[string]string{"k": "v"}, []byte("x")); err != nil {
		t.Fatalf("store: %v", err)
	}

	page, err := b.List(ctx, "users/b/files/", "", 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(page.Entries) != 1 {
		t.Fatalf("entries = %d, want 1 (sidecar hidden)", len(page.Entries))
	}
	entry := page.Entries[0]
	if entry.Key != "users/b/files/doc.json" {
		t.Errorf("key = %q", entry.Key)
	}
	if entry.UserMetadata["k"] != "v" {
		t.Errorf("listing should carry user metadata, got %v", entry.UserMetadata)
	}
}

func TestListFoldersAndPaging(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	for _, key := range []string{"p/a.json", "p/b.json", "p/c.json", "p/sub/d.json"} {
		if err := b.Store(ctx, key, "application/json", "", nil, []byte("x")); err != nil {
			t.Fatalf("store: %v", err)
		}
	}

	first, err := b.List(ctx, "p/", "", 2)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(first.Entries) != 2 {
		t.Fatalf("first page = %d entries, want 2", len(first.Entries))
	}
	if first.NextToken == "" {
		t.Fatal("first page should carry a next token")
	}

	second, err := b.List(ctx, "p/", first.NextToken, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(second.Entries) != 2 {
		t.Fatalf("second page = %d entries, want 2", len(second.Entries))
	}

	var folders, blobs int
	for _, page := range []*storage.Page{first, second} {
		for _, e := range page.Entries {
			if e.Type == storage.EntryFolder {
				folders++
				if e.Key != "p/sub/" {
					t.Errorf("folder key = %q, want p/sub/", e.Key)
				}
			} else {
				blobs++
			}
		}
	}
	if folders != 1 || blobs != 3 {
		t.Errorf("folders = %d, blobs = %d, want 1 and 3", folders, blobs)
	}
}

func TestListMissingPrefix(t *testing.T) {
	b := newTestBackend(t)

	page, err := b.List(context.Background(), "nope/", "", 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(page.Entries) != 0 {
		t.Errorf("entries = %v, want empty", page.Entries)
	}
}
