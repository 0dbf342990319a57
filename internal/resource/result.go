package resource

import "math"

// timeAbsent marks a missing timestamp on a negative result.
const timeAbsent int64 = math.MinInt64

// result is the materialized view of one resource across both tiers.
// Synced means the cache tier believes the blob tier matches; Exists
// false with Synced false is a tombstone awaiting a blob delete.
type result struct {
	Body      string
	CreatedAt int64 // epoch millis, timeAbsent when Exists is false
	UpdatedAt int64
	Synced    bool
	Exists    bool
}

// Metadata is either *ItemMetadata or *FolderMetadata.
type Metadata interface {
	metadataNode()
}

// ItemMetadata is the externally visible metadata of one resource.
type ItemMetadata struct {
	Descriptor Descriptor `json:"descriptor"`
	CreatedAt  int64      `json:"createdAt,omitempty"`
	UpdatedAt  int64      `json:"updatedAt,omitempty"`
}

// FolderMetadata is one page of a folder listing.
type FolderMetadata struct {
	Descriptor Descriptor `json:"descriptor"`
	Children   []Metadata `json:"children"`
	NextToken  string     `json:"nextToken,omitempty"`
}

func (*ItemMetadata) metadataNode()   {}
func (*FolderMetadata) metadataNode() {}
