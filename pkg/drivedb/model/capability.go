package model

import "time"

// Capability mirrors the server advertised capabilities for one account.
// The transfer layer only consults the chunking fields.
type Capability struct {
	ID              int64     `json:"id"`
	AccountName     string    `json:"account_name"`
	ChunkingAllowed bool      `json:"chunking_allowed"`
	ChunkSize       int64     `json:"chunk_size"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

func (Capability) TableName() string {
	return "capabilities"
}
