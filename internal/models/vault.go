package models

import "time"

// VaultItem is one encrypted secret at rest. KeyVersion always names a key
// present in the active ring; an item is atomically either fully under its
// recorded key or fully re-encrypted under a newer one, never in between.
type VaultItem struct {
	Ref        string
	Ciphertext []byte
	Nonce      []byte // GCM nonce, 12 bytes
	KeyVersion int
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// RotationReport summarizes one vault key-rotation pass. A corrupt item is
// reported and skipped rather than blocking rotation of the remainder.
type RotationReport struct {
	ActiveVersion int       `json:"active_version"`
	Scanned       int       `json:"scanned"`
	Rotated       int       `json:"rotated"`
	Skipped       int       `json:"skipped"` // re-encrypted concurrently by a writer
	Failed        int       `json:"failed"`
	FailedRefs    []string  `json:"failed_refs,omitempty"`
	StartedAt     time.Time `json:"started_at"`
	FinishedAt    time.Time `json:"finished_at"`
}
