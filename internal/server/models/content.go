package models

import "time"

// ContentStatus is the upload state of a content item.
type ContentStatus string

const (
	ContentBlank    ContentStatus = "blank"
	ContentUpdating ContentStatus = "updating"
	ContentReady    ContentStatus = "ready"
)

// ContentMetadata describes one blob-backed payload of a secret. Chunk writes
// are accepted only while Status is ContentUpdating and the caller presents
// AccessTicket.
type ContentMetadata struct {
	SecretID    string
	ContentName string
	Position    int
	IsMain      bool
	ContentType string
	FileName    string

	Status            ContentStatus
	AccessTicket      string
	AccessTicketSetAt time.Time

	Chunks []*ChunkMetadata
}

// Length is the total size of all stored chunks.
func (c *ContentMetadata) Length() int64 {
	var n int64
	for _, ch := range c.Chunks {
		n += ch.Length
	}
	return n
}

// ChunkMetadata describes one stored chunk body.
type ChunkMetadata struct {
	ChunkName string
	Position  int
	Hash      string
	Length    int64
}
