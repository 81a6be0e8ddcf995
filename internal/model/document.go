package model

import "time"

// Document is the summary row for an ingested document. The chunk texts and
// embeddings themselves live in the vector index, keyed by DocID.
type Document struct {
	DocID       string    `gorm:"primaryKey;size:36" json:"doc_id"`
	OwnerID     uint      `gorm:"not null;index" json:"owner_id"`
	Filename    string    `gorm:"size:256;not null" json:"filename"`
	ChunksCount int       `gorm:"not null" json:"chunks_count"`
	UploadedAt  time.Time `gorm:"autoCreateTime" json:"uploaded_at"`
}
