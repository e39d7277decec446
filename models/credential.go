package models

import (
	"time"
)

// Credential is one sealed entry in the credential store. Service and Account
// namespace the entry; Value holds the chacha20poly1305 nonce followed by the
// ciphertext.
type Credential struct {
	Service   string `gorm:"primaryKey"`
	Account   string `gorm:"primaryKey"`
	Value     []byte
	UpdatedAt time.Time
}
