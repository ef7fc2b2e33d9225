package store

import (
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"ragchat/pkg/domain"
)

func msg(role, content, authorID string) domain.Message {
	return domain.Message{ID: newKey(), Role: role, Content: content, AuthorID: authorID}
}

func TestAppendTurnCreatesThreadWithTitle(t *testing.T) {
	m := NewMemoryStore()

	thread, err := m.AppendTurn("t-1", "owner-1",
		msg("user", "what is in the quarterly report?", "owner-1"),
		msg("assistant", "a lot", ""),
	)
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if thread.Title != "what is in the quarterly report?" {
		t.Fatalf("title = %q", thread.Title)
	}
	if thread.OwnerID != "owner-1" || len(thread.Messages) != 2 {
		t.Fatalf("thread = %+v", thread)
	}
	if thread.CreatedAt.IsZero() || thread.UpdatedAt.IsZero() {
		t.Fatalf("timestamps not set")
	}
}

func TestAppendTurnPreservesOrderAndBumpsUpdatedAt(t *testing.T) {
	m := NewMemoryStore()

	first, err := m.AppendTurn("t-1", "owner-1", msg("user", "one", "owner-1"), msg("assistant", "r1", ""))
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	time.Sleep(time.Millisecond)
	second, err := m.AppendTurn("t-1", "owner-1", msg("user", "two", "owner-1"), msg("assistant", "r2", ""))
	if err != nil {
		t.Fatalf("append: %v", err)
	}

	if len(second.Messages) != 4 {
		t.Fatalf("messages = %d", len(second.Messages))
	}
	for i, want := range []string{"one", "r1", "two", "r2"} {
		if second.Messages[i].Content != want {
			t.Fatalf("message[%d] = %q, want %q", i, second.Messages[i].Content, want)
		}
	}
	if !second.UpdatedAt.After(first.UpdatedAt) {
		t.Fatalf("updatedAt must move forward: %v -> %v", first.UpdatedAt, second.UpdatedAt)
	}
	if second.Title != first.Title {
		t.Fatalf("title changed on append: %q -> %q", first.Title, second.Title)
	}
}

func TestConcurrentAppendsKeepAllTurns(t *testing.T) {
	m := NewMemoryStore()

	const n = 32
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			content := fmt.Sprintf("turn %d", i)
			if _, err := m.AppendTurn("t-1", "owner-1", msg("user", content, "owner-1"), msg("assistant", "ok", "")); err != nil {
				t.Errorf("append %d: %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	thread, ok, err := m.GetThread("t-1", "owner-1")
	if err != nil || !ok {
		t.Fatalf("get: ok=%v err=%v", ok, err)
	}
	if len(thread.Messages) != 2*n {
		t.Fatalf("messages = %d, want %d", len(thread.Messages), 2*n)
	}
	// Turn pairs must be adjacent: no interleaving within a turn.
	for i := 0; i < len(thread.Messages); i += 2 {
		if thread.Messages[i].Role != "user" || thread.Messages[i+1].Role != "assistant" {
			t.Fatalf("turn at %d interleaved: %s/%s", i, thread.Messages[i].Role, thread.Messages[i+1].Role)
		}
	}
}

func TestListThreadsNewestFirstAndScoped(t *testing.T) {
	m := NewMemoryStore()

	for i, id := range []string{"t-1", "t-2", "t-3"} {
		owner := "owner-1"
		if i == 2 {
			owner = "owner-2"
		}
		if _, err := m.AppendTurn(id, owner, msg("user", "msg "+id, owner)); err != nil {
			t.Fatalf("append %s: %v", id, err)
		}
		time.Sleep(time.Millisecond)
	}
	// Touch t-1 so it becomes the newest.
	if _, err := m.AppendTurn("t-1", "owner-1", msg("user", "again", "owner-1")); err != nil {
		t.Fatalf("append: %v", err)
	}

	summaries, err := m.ListThreads("owner-1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(summaries) != 2 {
		t.Fatalf("summaries = %d, want owner-scoped 2", len(summaries))
	}
	if summaries[0].ThreadID != "t-1" || summaries[1].ThreadID != "t-2" {
		t.Fatalf("order = %s,%s", summaries[0].ThreadID, summaries[1].ThreadID)
	}

	all, err := m.ListThreads("")
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("unscoped list = %d, want 3", len(all))
	}
}

func TestGetThreadOwnershipIsolation(t *testing.T) {
	m := NewMemoryStore()
	if _, err := m.AppendTurn("t-1", "owner-1", msg("user", "private", "owner-1")); err != nil {
		t.Fatalf("append: %v", err)
	}

	if _, ok, _ := m.GetThread("t-1", "owner-2"); ok {
		t.Fatalf("cross-owner read must miss")
	}
	if ok, _ := m.DeleteThread("t-1", "owner-2"); ok {
		t.Fatalf("cross-owner delete must miss")
	}
	if _, ok, _ := m.GetThread("t-1", "owner-1"); !ok {
		t.Fatalf("owner read must hit")
	}
}

func TestLegacyOwnerlessFallback(t *testing.T) {
	m := NewMemoryStore()
	m.SeedLegacyThread(domain.Thread{
		ThreadID: "legacy-1",
		Title:    "old chat",
		Messages: []domain.Message{
			msg("user", "hello", "owner-1"),
			msg("assistant", "hi", ""),
		},
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	})

	thread, ok, err := m.GetThread("legacy-1", "owner-1")
	if err != nil || !ok {
		t.Fatalf("author lookup: ok=%v err=%v", ok, err)
	}
	if thread.Title != "old chat" {
		t.Fatalf("thread = %+v", thread)
	}

	// A user who never authored a message in the legacy thread gets nothing.
	if _, ok, _ := m.GetThread("legacy-1", "owner-2"); ok {
		t.Fatalf("non-author must not reach the legacy thread")
	}

	// The fallback never shadows an owned thread with the same id.
	if _, err := m.AppendTurn("legacy-1", "owner-1", msg("user", "fresh start", "owner-1")); err != nil {
		t.Fatalf("append: %v", err)
	}
	got, ok, _ := m.GetThread("legacy-1", "owner-1")
	if !ok || got.OwnerID != "owner-1" {
		t.Fatalf("owned thread must win: %+v", got)
	}
}

func TestDeleteThreadScoped(t *testing.T) {
	m := NewMemoryStore()
	if _, err := m.AppendTurn("t-1", "owner-1", msg("user", "x", "owner-1")); err != nil {
		t.Fatalf("append: %v", err)
	}

	ok, err := m.DeleteThread("t-1", "owner-1")
	if err != nil || !ok {
		t.Fatalf("delete: ok=%v err=%v", ok, err)
	}
	if _, ok, _ := m.GetThread("t-1", "owner-1"); ok {
		t.Fatalf("thread survived delete")
	}
	if ok, _ := m.DeleteThread("t-1", "owner-1"); ok {
		t.Fatalf("second delete must miss")
	}
}

func TestGetThreadReturnsCopy(t *testing.T) {
	m := NewMemoryStore()
	if _, err := m.AppendTurn("t-1", "owner-1", domain.Message{
		ID: newKey(), Role: "user", Content: "x", AuthorID: "owner-1", Attachments: []string{"a.pdf"},
	}); err != nil {
		t.Fatalf("append: %v", err)
	}

	first, _, _ := m.GetThread("t-1", "owner-1")
	first.Messages[0].Content = "mutated"
	first.Messages[0].Attachments[0] = "mutated.pdf"

	second, _, _ := m.GetThread("t-1", "owner-1")
	if second.Messages[0].Content != "x" || second.Messages[0].Attachments[0] != "a.pdf" {
		t.Fatalf("store leaked internal state: %+v", second.Messages[0])
	}
}

func TestUserOperations(t *testing.T) {
	m := NewMemoryStore()
	u := domain.User{ID: "u-1", Name: "alice", Role: domain.RoleAdmin}
	if err := m.SaveUser(u); err != nil {
		t.Fatalf("save: %v", err)
	}

	if taken, _ := m.HasUserName("alice"); !taken {
		t.Fatalf("name should be taken")
	}
	if taken, _ := m.HasUserName("bob"); taken {
		t.Fatalf("name should be free")
	}
	if got, ok, _ := m.GetUserByName("alice"); !ok || got.ID != "u-1" {
		t.Fatalf("by name = %+v ok=%v", got, ok)
	}
	if got, ok, _ := m.GetUserByID("u-1"); !ok || got.Role != domain.RoleAdmin {
		t.Fatalf("by id = %+v ok=%v", got, ok)
	}

	_ = m.SaveUser(domain.User{ID: "u-2", Name: "bob", Role: domain.RoleUser})
	users, _ := m.ListUsers()
	if len(users) != 2 || users[0].Name != "alice" || users[1].Name != "bob" {
		t.Fatalf("users = %+v", users)
	}
}

func TestThreadTitle(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"hello", "hello"},
		{"  spaced  ", "spaced"},
		{"", "New Chat"},
		{"line one\nline two", "line one line two"},
	}
	for _, tc := range cases {
		if got := threadTitle(tc.in); got != tc.want {
			t.Fatalf("threadTitle(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
	long := threadTitle(strings.Repeat("a", 200))
	if len([]rune(long)) > 65 {
		t.Fatalf("long title not truncated: %q", long)
	}
}
