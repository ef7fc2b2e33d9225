package store

import (
	"context"
	"errors"

	"ragchat/pkg/domain"
)

// ErrNotFound is returned by scoped lookups when no matching record exists.
var ErrNotFound = errors.New("not found")

// Store defines persistence operations for users and threads.
//
// Thread operations are keyed by (threadID, ownerID). An empty ownerID means
// an unscoped administrative lookup. AppendTurn must serialize concurrent
// appends against the same key: at most one structural update is in flight
// per thread at any time.
type Store interface {
	// users
	SaveUser(domain.User) error
	HasUserName(name string) (bool, error)
	GetUserByName(name string) (domain.User, bool, error)
	GetUserByID(id string) (domain.User, bool, error)
	ListUsers() ([]domain.User, error)

	// threads
	ListThreads(ownerID string) ([]domain.ThreadSummary, error)
	GetThread(threadID, ownerID string) (domain.Thread, bool, error)
	AppendTurn(threadID, ownerID string, msgs ...domain.Message) (domain.Thread, error)
	DeleteThread(threadID, ownerID string) (bool, error)
}

// SessionStore issues and validates session tokens.
type SessionStore interface {
	NewSession(userID string) (string, error)
	GetUserIDByToken(token string) (string, bool, error)
}

// ContextStore tracks the most recently uploaded filename per (owner,
// thread) so text-only follow-up turns can query the document processing
// service without re-uploading. The remembered name is cleared when the
// thread is deleted.
type ContextStore interface {
	RememberFile(ctx context.Context, ownerID, threadID, filename string) error
	LastFile(ctx context.Context, ownerID, threadID string) (string, bool, error)
	Clear(ctx context.Context, ownerID, threadID string) error
}
