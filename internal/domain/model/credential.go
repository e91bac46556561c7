package model

import "time"

// Credential is a named secret held in the encrypted credential store, such
// as "github_token" or "anthropic_api_key".
type Credential struct {
	ID        int64
	Name      string
	Value     string
	UpdatedAt time.Time
}
