package domain

import "time"

type UserRole string

const (
	RoleUser     UserRole = "user"
	RoleAdmin    UserRole = "admin"
	RoleEngineer UserRole = "engineer"
)

// Message roles. RoleNameAssistant is reserved for generated replies and is
// never a valid user role; boundaries that accept a role reject it.
const (
	RoleNameUser      = "user"
	RoleNameAssistant = "assistant"
)

// ParseUserRole accepts only the closed set of assignable roles.
func ParseUserRole(role string) (UserRole, bool) {
	switch UserRole(role) {
	case RoleUser, RoleAdmin, RoleEngineer:
		return UserRole(role), true
	default:
		return "", false
	}
}

type User struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	SecretHash string    `json:"-"`
	Role       UserRole  `json:"role"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

type Message struct {
	ID      string `json:"id"`
	Role    string `json:"role"`
	Content string `json:"content"`
	// Name is the display name of the author ("assistant" for replies).
	Name string `json:"name,omitempty"`
	// AuthorID is a weak reference to a User, used for display attribution
	// only. Ownership checks never consult it except on legacy threads that
	// predate owner scoping.
	AuthorID    string    `json:"author,omitempty"`
	Attachments []string  `json:"attachments,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

type Thread struct {
	ThreadID  string    `json:"threadId"`
	OwnerID   string    `json:"owner"`
	Title     string    `json:"title"`
	Messages  []Message `json:"messages"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type ThreadSummary struct {
	ThreadID  string    `json:"threadId"`
	Title     string    `json:"title"`
	UpdatedAt time.Time `json:"updatedAt"`
}
