package models

import "time"

// Credential holds a principal's password hash plus its bounded reuse
// history. Owned exclusively by the credential service; hashes never leave
// that package and plaintext is never stored or logged.
type Credential struct {
	PrincipalID string
	CurrentHash string
	History     []string // prior hashes, oldest first, bounded by config
	ChangedAt   time.Time
}
