package resource

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/vwake01/ai-dial-core/internal/lock"
	"github.com/vwake01/ai-dial-core/internal/logging"
	"github.com/vwake01/ai-dial-core/internal/metrics"
	"github.com/vwake01/ai-dial-core/internal/storage"
)

// ErrTooLarge is returned by PutResource when the body exceeds MaxSize.
var ErrTooLarge = errors.New("resource body exceeds the maximum allowed size")

// Config holds resource service settings. All fields are required.
type Config struct {
	MaxSize            int           // max body size in bytes
	SyncPeriod         time.Duration // interval of the background sweep
	SyncDelay          time.Duration // debounce before a mutation becomes due
	SyncBatch          int           // max keys reconciled per tick
	CacheExpiration    time.Duration // TTL applied to synced cache hashes
	CompressionMinSize int           // gzip bodies at or above this size
}

func (c Config) validate() error {
	if c.MaxSize <= 0 {
		return fmt.Errorf("max size must be positive")
	}
	if c.SyncPeriod <= 0 {
		return fmt.Errorf("sync period must be positive")
	}
	if c.SyncDelay < 0 {
		return fmt.Errorf("sync delay must not be negative")
	}
	if c.SyncBatch <= 0 {
		return fmt.Errorf("sync batch must be positive")
	}
	if c.CacheExpiration <= 0 {
		return fmt.Errorf("cache expiration must be positive")
	}
	if c.CompressionMinSize < 0 {
		return fmt.Errorf("compression min size must not be negative")
	}
	return nil
}

// Service is the public surface of the write-back resource cache.
// Reads are served from Redis; writes, deletes and cache populates on a
// read miss run under a per-key distributed lock. The background
// scheduler reconciles dirty entries to blob storage.
type Service struct {
	blob  storage.BlobStore
	locks *lock.Service
	cache *cache
	cfg   Config

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates the service and starts its background sync scheduler.
func New(rdb *redis.Client, blob storage.BlobStore, locks *lock.Service, cfg Config) (*Service, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Service{
		blob:   blob,
		locks:  locks,
		cache:  &cache{rdb: rdb, expiration: cfg.CacheExpiration},
		cfg:    cfg,
		cancel: cancel,
	}
	s.wg.Add(1)
	go s.run(ctx)
	return s, nil
}

// Close stops the background scheduler. An in-flight sweep is allowed to
// complete.
func (s *Service) Close() {
	s.cancel()
	s.wg.Wait()
}

// GetMetadata returns item or folder metadata, or nil when the resource
// does not exist. token and limit page folder listings.
func (s *Service) GetMetadata(ctx context.Context, d Descriptor, token string, limit int) (Metadata, error) {
	if d.IsFolder() {
		return s.getFolderMetadata(ctx, d, token, limit)
	}
	return s.getItemMetadata(ctx, d)
}

func (s *Service) getFolderMetadata(ctx context.Context, d Descriptor, token string, limit int) (Metadata, error) {
	page, err := s.blob.List(ctx, blobKey(d), token, limit)
	if err != nil {
		return nil, err
	}

	if len(page.Entries) == 0 && !d.IsRootFolder() {
		return nil, nil
	}

	children := make([]Metadata, 0, len(page.Entries))
	for _, entry := range page.Entries {
		child := FromDecoded(d, fromBlobKey(entry.Key))

		if entry.Type != storage.EntryBlob {
			children = append(children, &FolderMetadata{Descriptor: child})
			continue
		}

		createdAt := userMetaTime(entry.UserMetadata, "created_at")
		updatedAt := userMetaTime(entry.UserMetadata, "updated_at")
		if createdAt == 0 && !entry.Created.IsZero() {
			createdAt = entry.Created.UnixMilli()
		}
		if updatedAt == 0 && !entry.LastModified.IsZero() {
			updatedAt = entry.LastModified.UnixMilli()
		}

		children = append(children, &ItemMetadata{
			Descriptor: child,
			CreatedAt:  createdAt,
			UpdatedAt:  updatedAt,
		})
	}

	return &FolderMetadata{
		Descriptor: d,
		Children:   children,
		NextToken:  page.NextToken,
	}, nil
}

func (s *Service) getItemMetadata(ctx context.Context, d Descriptor) (Metadata, error) {
	res, err := s.cache.get(ctx, cacheKey(d), false)
	if err != nil {
		return nil, err
	}
	if res == nil {
		res, err = s.blobGet(ctx, blobKey(d), false)
		if err != nil {
			return nil, err
		}
	}

	if !res.Exists {
		return nil, nil
	}

	return &ItemMetadata{
		Descriptor: d,
		CreatedAt:  res.CreatedAt,
		UpdatedAt:  res.UpdatedAt,
	}, nil
}

// GetResource returns the resource body, or found=false when the
// resource does not exist. A cache miss populates the cache from blob
// storage under the per-key lock, re-checking the cache once the lock is
// held.
func (s *Service) GetResource(ctx context.Context, d Descriptor) (body string, found bool, err error) {
	key := cacheKey(d)

	res, err := s.cache.get(ctx, key, true)
	if err != nil {
		return "", false, err
	}
	metrics.RecordCacheLookup(res != nil)

	if res == nil {
		res, err = s.populate(ctx, d, key)
		if err != nil {
			return "", false, err
		}
	}

	metrics.RecordResourceOperation("get", outcome(res.Exists))
	return res.Body, res.Exists, nil
}

func (s *Service) populate(ctx context.Context, d Descriptor, key string) (*result, error) {
	lk, err := s.locks.Lock(ctx, key)
	if err != nil {
		return nil, err
	}
	defer s.unlock(ctx, lk)

	res, err := s.cache.get(ctx, key, true)
	if err != nil || res != nil {
		return res, err
	}

	res, err = s.blobGet(ctx, blobKey(d), true)
	if err != nil {
		return nil, err
	}
	if err := s.cache.put(ctx, key, res, s.dueAt()); err != nil {
		return nil, err
	}
	return res, nil
}

// PutResource stores the body and returns the resulting item metadata.
// The write lands in the cache only; the background scheduler persists
// it to blob storage after the sync delay. The first write of a new
// resource also stores a zero-byte placeholder blob so folder listings
// see the resource immediately.
func (s *Service) PutResource(ctx context.Context, d Descriptor, body string) (*ItemMetadata, error) {
	if len(body) > s.cfg.MaxSize {
		return nil, fmt.Errorf("%w: %d > %d", ErrTooLarge, len(body), s.cfg.MaxSize)
	}

	key := cacheKey(d)

	lk, err := s.locks.Lock(ctx, key)
	if err != nil {
		return nil, err
	}
	defer s.unlock(ctx, lk)

	current, err := s.cache.get(ctx, key, false)
	if err != nil {
		return nil, err
	}
	if current == nil {
		current, err = s.blobGet(ctx, blobKey(d), false)
		if err != nil {
			return nil, err
		}
	}

	updatedAt := timeMillis()
	createdAt := updatedAt
	if current.Exists {
		createdAt = current.CreatedAt
	}

	res := &result{Body: body, CreatedAt: createdAt, UpdatedAt: updatedAt, Synced: false, Exists: true}
	if err := s.cache.put(ctx, key, res, s.dueAt()); err != nil {
		return nil, err
	}

	if !current.Exists {
		// placeholder so folder listings find the resource before the
		// first sync writes the real body
		if err := s.blobPut(ctx, blobKey(d), "", createdAt, updatedAt); err != nil {
			return nil, err
		}
	}

	metrics.RecordResourceOperation("put", "ok")
	return &ItemMetadata{Descriptor: d, CreatedAt: createdAt, UpdatedAt: updatedAt}, nil
}

// DeleteResource removes the resource from both tiers. It returns false
// when the resource does not exist. The blob delete is synchronous; if
// it fails, the tombstone stays queued and the scheduler retries it.
func (s *Service) DeleteResource(ctx context.Context, d Descriptor) (bool, error) {
	key := cacheKey(d)

	lk, err := s.locks.Lock(ctx, key)
	if err != nil {
		return false, err
	}
	defer s.unlock(ctx, lk)

	current, err := s.cache.get(ctx, key, false)
	if err != nil {
		return false, err
	}

	existed := false
	if current != nil {
		existed = current.Exists
	} else {
		existed, err = s.blob.Exists(ctx, blobKey(d))
		if err != nil {
			return false, err
		}
	}
	if !existed {
		metrics.RecordResourceOperation("delete", "absent")
		return false, nil
	}

	tombstone := &result{Body: "", CreatedAt: timeAbsent, UpdatedAt: timeAbsent, Synced: false, Exists: false}
	if err := s.cache.put(ctx, key, tombstone, s.dueAt()); err != nil {
		return false, err
	}
	if err := s.blob.Delete(ctx, blobKey(d)); err != nil {
		return false, err
	}
	if err := s.cache.markSynced(ctx, key); err != nil {
		return false, err
	}

	metrics.RecordResourceOperation("delete", "ok")
	return true, nil
}

// blobGet reads a resource from blob storage. A missing object yields a
// synthetic negative result with Synced=true: there is nothing to
// reconcile.
func (s *Service) blobGet(ctx context.Context, key string, withBody bool) (*result, error) {
	var meta *storage.ObjectMeta
	var data []byte

	if withBody {
		obj, err := s.blob.Load(ctx, key)
		if err != nil {
			return nil, err
		}
		if obj != nil {
			meta = &obj.ObjectMeta
			data = obj.Data
		}
	} else {
		var err error
		meta, err = s.blob.Meta(ctx, key)
		if err != nil {
			return nil, err
		}
	}

	if meta == nil {
		return &result{Body: "", CreatedAt: timeAbsent, UpdatedAt: timeAbsent, Synced: true, Exists: false}, nil
	}

	createdAt, err := requireUserMetaTime(key, meta.UserMetadata, "created_at")
	if err != nil {
		return nil, err
	}
	updatedAt, err := requireUserMetaTime(key, meta.UserMetadata, "updated_at")
	if err != nil {
		return nil, err
	}

	body := ""
	if withBody {
		decoded, err := decompress(meta.ContentEncoding, data)
		if err != nil {
			return nil, fmt.Errorf("blob %s: %w", key, err)
		}
		body = string(decoded)
	}

	return &result{Body: body, CreatedAt: createdAt, UpdatedAt: updatedAt, Synced: true, Exists: true}, nil
}

// blobPut writes a body to blob storage, gzipping it at or above the
// compression threshold.
func (s *Service) blobPut(ctx context.Context, key, body string, createdAt, updatedAt int64) error {
	data := []byte(body)
	encoding := ""

	if len(data) >= s.cfg.CompressionMinSize {
		compressed, err := compress(data)
		if err != nil {
			return fmt.Errorf("blob %s: %w", key, err)
		}
		data = compressed
		encoding = encodingGzip
	}

	userMeta := map[string]string{
		"created_at": strconv.FormatInt(createdAt, 10),
		"updated_at": strconv.FormatInt(updatedAt, 10),
	}
	return s.blob.Store(ctx, key, "application/json", encoding, userMeta, data)
}

// run drives the periodic background sweep until ctx is cancelled. The
// cancellation only breaks the loop; each sweep runs on its own context
// so Close never aborts in-flight cache or blob I/O.
func (s *Service) run(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.SyncPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(context.Background())
		}
	}
}

// sweep reconciles one batch of due keys. Failures are logged and left
// in the queue for the next tick.
func (s *Service) sweep(ctx context.Context) {
	logging.Debug("syncing resources")
	start := time.Now()

	keys, err := s.cache.due(ctx, timeMillis(), s.cfg.SyncBatch)
	if err != nil {
		logging.Warn("failed to sync resources", zap.Error(err))
		return
	}

	synced, failed := 0, 0
	for _, key := range keys {
		if err := s.syncOne(ctx, key); err != nil {
			logging.Warn("failed to sync resource", zap.String("key", key), zap.Error(err))
			failed++
		} else {
			synced++
		}
	}

	if depth, err := s.cache.queueDepth(ctx); err == nil {
		metrics.SetSyncQueueDepth(depth)
	}
	metrics.RecordSyncSweep(time.Since(start), synced, failed)
}

// syncOne reconciles a single key under its lock. A contended lock means
// another actor owns the key right now; the key is skipped, not failed.
func (s *Service) syncOne(ctx context.Context, key string) error {
	lk, err := s.locks.TryLock(ctx, key)
	if err != nil {
		return err
	}
	if lk == nil {
		return nil
	}
	defer s.unlock(ctx, lk)

	logging.Debug("syncing resource", zap.String("key", key))

	res, err := s.cache.get(ctx, key, false)
	if err != nil {
		return err
	}
	if res == nil || res.Synced {
		if err := s.cache.expireIfNotSet(ctx, key); err != nil {
			return err
		}
		return s.cache.removeFromQueue(ctx, key)
	}

	blobKey := blobKeyFromCacheKey(key)
	if res.Exists {
		full, err := s.cache.get(ctx, key, true)
		if err != nil {
			return err
		}
		if full == nil {
			return s.cache.removeFromQueue(ctx, key)
		}
		if err := s.blobPut(ctx, blobKey, full.Body, full.CreatedAt, full.UpdatedAt); err != nil {
			return err
		}
	} else {
		if err := s.blob.Delete(ctx, blobKey); err != nil {
			return err
		}
	}

	return s.cache.markSynced(ctx, key)
}

func (s *Service) unlock(ctx context.Context, lk *lock.Lock) {
	if err := lk.Unlock(ctx); err != nil {
		logging.Warn("failed to release lock", zap.Error(err))
	}
}

func (s *Service) dueAt() int64 {
	return timeMillis() + s.cfg.SyncDelay.Milliseconds()
}

func timeMillis() int64 {
	return time.Now().UnixMilli()
}

func outcome(found bool) string {
	if found {
		return "found"
	}
	return "absent"
}

func userMetaTime(meta map[string]string, name string) int64 {
	v, err := strconv.ParseInt(meta[name], 10, 64)
	if err != nil {
		return 0
	}
	return v
}

func requireUserMetaTime(key string, meta map[string]string, name string) (int64, error) {
	s, ok := meta[name]
	if !ok {
		return 0, fmt.Errorf("blob %s missing user metadata %s", key, name)
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("blob %s user metadata %s: %w", key, name, err)
	}
	return v, nil
}
