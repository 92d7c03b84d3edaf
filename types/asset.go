package types

import "time"

// AssetRequest describes one URL import. MaxSize of zero means the
// fetcher's configured default bound applies.
type AssetRequest struct {
	URL         string `json:"url"`
	ContentType string `json:"content_type,omitempty"`
	MaxSize     int64  `json:"max_size,omitempty"`
}

// CachedAsset is one immutable entry of the content-addressed cache.
// Two URLs resolving to byte-identical content share one entry.
type CachedAsset struct {
	Hash        string    `json:"hash"`
	Path        string    `json:"path"`
	Size        int64     `json:"size"`
	ContentType string    `json:"content_type"`
	SourceURL   string    `json:"source_url,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// ObjectHandle identifies an object the host importer created.
type ObjectHandle struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}
