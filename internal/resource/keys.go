package resource

import "strings"

const blobExtension = ".json"

// blobKey maps a descriptor to its blob store object key. Items gain the
// ".json" extension; folders use the bare path as a listing prefix.
func blobKey(d Descriptor) string {
	if d.IsFolder() {
		return d.Path
	}
	return d.Path + blobExtension
}

// cacheKey maps a descriptor to its shared-cache key, namespaced by the
// lower-cased resource type.
func cacheKey(d Descriptor) string {
	return strings.ToLower(string(d.Type)) + ":" + d.Path
}

// blobKeyFromCacheKey recovers the blob key from a cache key by stripping
// the type namespace.
func blobKeyFromCacheKey(key string) string {
	i := strings.Index(key, ":")
	return key[i+1:] + blobExtension
}

// fromBlobKey recovers the resource path from a blob key.
func fromBlobKey(key string) string {
	return strings.TrimSuffix(key, blobExtension)
}
