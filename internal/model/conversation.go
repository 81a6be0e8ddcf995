package model

import "time"

type Conversation struct {
	ID        string    `gorm:"primaryKey;size:36" json:"id"`
	OwnerID   uint      `gorm:"not null;index" json:"owner_id"`
	CreatedAt time.Time `json:"created_at"`
}
