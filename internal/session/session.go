package session

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

const idPrefix = "sess-"

// Data is everything persisted for a logged-in user. The password hash is
// never part of it.
type Data struct {
	UserID       int64  `json:"user_id"`
	Username     string `json:"username"`
	Email        string `json:"email"`
	Role         string `json:"role"`
	StudentID    *int64 `json:"student_id,omitempty"`
	InstructorID *int64 `json:"instructor_id,omitempty"`
}

// Store is a server-side session store keyed by an opaque session id.
type Store interface {
	// Renew invalidates oldID (which may be empty or unknown), allocates a
	// fresh session id, persists data under it, and returns the new id.
	// Regenerating before populating defends against session fixation.
	Renew(ctx context.Context, oldID string, data Data) (string, error)

	// Get returns the session data for id, or nil if the session does not
	// exist or has expired.
	Get(ctx context.Context, id string) (*Data, error)

	// Destroy invalidates id unconditionally; destroying an absent session
	// is a no-op.
	Destroy(ctx context.Context, id string) error
}

func newSessionID() (string, error) {
	randomBytes := make([]byte, 16)
	if _, err := rand.Read(randomBytes); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}
	return idPrefix + hex.EncodeToString(randomBytes), nil
}
