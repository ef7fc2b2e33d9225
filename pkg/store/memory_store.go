package store

import (
	"sort"
	"sync"
	"time"

	"ragchat/pkg/domain"
)

// MemoryStore keeps users and threads in-process. Used by tests and for
// running without Postgres. The single mutex trivially satisfies the
// at-most-one-append-in-flight invariant per thread key.
type MemoryStore struct {
	mu      sync.RWMutex
	users   map[string]domain.User // key: user ID
	names   map[string]string      // display name -> user ID
	threads map[string]*domain.Thread
}

// NewMemoryStore initializes an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:   make(map[string]domain.User),
		names:   make(map[string]string),
		threads: make(map[string]*domain.Thread),
	}
}

func threadKey(threadID, ownerID string) string {
	return ownerID + "\x00" + threadID
}

// SaveUser registers or updates a user.
func (m *MemoryStore) SaveUser(u domain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[u.ID] = u
	m.names[u.Name] = u.ID
	return nil
}

// HasUserName checks if a display name is taken.
func (m *MemoryStore) HasUserName(name string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.names[name]
	return ok, nil
}

// GetUserByName looks up a user by display name.
func (m *MemoryStore) GetUserByName(name string) (domain.User, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if id, ok := m.names[name]; ok {
		u, exists := m.users[id]
		return u, exists, nil
	}
	return domain.User{}, false, nil
}

// GetUserByID returns a user by ID.
func (m *MemoryStore) GetUserByID(id string) (domain.User, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	return u, ok, nil
}

// ListUsers returns all users sorted by name.
func (m *MemoryStore) ListUsers() ([]domain.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.User, 0, len(m.users))
	for _, u := range m.users {
		res = append(res, u)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].Name < res[j].Name })
	return res, nil
}

// ListThreads returns summaries newest updatedAt first; empty ownerID
// lists all threads.
func (m *MemoryStore) ListThreads(ownerID string) ([]domain.ThreadSummary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.ThreadSummary, 0, len(m.threads))
	for _, t := range m.threads {
		if ownerID != "" && t.OwnerID != ownerID {
			continue
		}
		res = append(res, domain.ThreadSummary{
			ThreadID:  t.ThreadID,
			Title:     t.Title,
			UpdatedAt: t.UpdatedAt,
		})
	}
	sort.Slice(res, func(i, j int) bool { return res[i].UpdatedAt.After(res[j].UpdatedAt) })
	return res, nil
}

// GetThread returns a copy of the thread. Owner-scoped lookup first; the
// legacy authorship scan runs only when the scoped lookup finds nothing.
func (m *MemoryStore) GetThread(threadID, ownerID string) (domain.Thread, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.findThread(threadID, ownerID)
	if !ok {
		return domain.Thread{}, false, nil
	}
	return copyThread(t), true, nil
}

func (m *MemoryStore) findThread(threadID, ownerID string) (*domain.Thread, bool) {
	if ownerID != "" {
		if t, ok := m.threads[threadKey(threadID, ownerID)]; ok {
			return t, true
		}
		// Legacy fallback: ownerless thread where the user authored a message.
		if t, ok := m.threads[threadKey(threadID, "")]; ok {
			for _, msg := range t.Messages {
				if msg.AuthorID == ownerID {
					return t, true
				}
			}
		}
		return nil, false
	}
	// Administrative lookup: newest matching thread across owners.
	var best *domain.Thread
	for _, t := range m.threads {
		if t.ThreadID != threadID {
			continue
		}
		if best == nil || t.UpdatedAt.After(best.UpdatedAt) {
			best = t
		}
	}
	return best, best != nil
}

// AppendTurn creates the thread if absent and appends messages atomically.
func (m *MemoryStore) AppendTurn(threadID, ownerID string, msgs ...domain.Message) (domain.Thread, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()
	key := threadKey(threadID, ownerID)
	t, ok := m.threads[key]
	if !ok {
		title := ""
		if len(msgs) > 0 {
			title = threadTitle(msgs[0].Content)
		}
		t = &domain.Thread{
			ThreadID:  threadID,
			OwnerID:   ownerID,
			Title:     title,
			CreatedAt: now,
			UpdatedAt: now,
		}
		m.threads[key] = t
	}
	for _, msg := range msgs {
		if msg.Timestamp.IsZero() {
			msg.Timestamp = now
		}
		t.Messages = append(t.Messages, msg)
	}
	t.UpdatedAt = now
	return copyThread(t), nil
}

// DeleteThread removes the thread, scoped like GetThread.
func (m *MemoryStore) DeleteThread(threadID, ownerID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.findThread(threadID, ownerID)
	if !ok {
		return false, nil
	}
	delete(m.threads, threadKey(t.ThreadID, t.OwnerID))
	return true, nil
}

// SeedLegacyThread inserts an ownerless thread, for exercising the legacy
// authorship fallback in tests.
func (m *MemoryStore) SeedLegacyThread(t domain.Thread) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t.OwnerID = ""
	copied := copyThread(&t)
	m.threads[threadKey(t.ThreadID, "")] = &copied
}

func copyThread(t *domain.Thread) domain.Thread {
	out := *t
	out.Messages = make([]domain.Message, len(t.Messages))
	copy(out.Messages, t.Messages)
	for i := range out.Messages {
		if len(out.Messages[i].Attachments) > 0 {
			attachments := make([]string, len(out.Messages[i].Attachments))
			copy(attachments, out.Messages[i].Attachments)
			out.Messages[i].Attachments = attachments
		}
	}
	return out
}
