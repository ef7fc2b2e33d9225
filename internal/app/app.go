// Package app holds the session controller: the state machine that runs a
// chat turn from request validation through bridging to persistence, plus
// the thread and user operations the HTTP layer exposes.
package app

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"ragchat/internal/bridge"
	"ragchat/internal/util"
	"ragchat/pkg/auth"
	"ragchat/pkg/domain"
	"ragchat/pkg/marker"
	"ragchat/pkg/storage"
	"ragchat/pkg/store"
)

// Bridge is the exchange surface of the retrieval bridge. Satisfied by
// *bridge.Client; tests substitute fakes.
type Bridge interface {
	Upload(ctx context.Context, filename string, size int64, query string, data []byte) (string, error)
	Query(ctx context.Context, question, role, filename string) (string, error)
}

// Config wires the controller's collaborators.
type Config struct {
	Store    store.Store
	Sessions store.SessionStore
	Contexts store.ContextStore
	Bridge   Bridge
	Sink     storage.Sink

	// RequireRole makes the role field mandatory on chat turns instead of
	// defaulting to the caller's stored role.
	RequireRole bool
	// MaxUploadBytes caps a single attachment; zero means unlimited.
	MaxUploadBytes int64
	// AllowedExtensions restricts attachment filenames (lowercase, with
	// leading dot); empty means any extension.
	AllowedExtensions []string
}

// App is the session controller.
type App struct {
	cfg Config
}

func New(cfg Config) (*App, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("app requires a store")
	}
	if cfg.Bridge == nil {
		return nil, fmt.Errorf("app requires a bridge client")
	}
	if cfg.Contexts == nil {
		cfg.Contexts = store.NewMemoryContextStore()
	}
	return &App{cfg: cfg}, nil
}

// TurnFile is one attachment supplied with a chat turn.
type TurnFile struct {
	Name string
	Size int64
	Data []byte
}

// TurnRequest is the input to RunTurn.
type TurnRequest struct {
	ThreadID string
	UserID   string
	// Role is the caller's claimed role; empty defaults to the stored role
	// unless RequireRole is set.
	Role  string
	Text  string
	Files []TurnFile
}

var idPattern = regexp.MustCompile(`^[A-Za-z0-9_.:-]{1,128}$`)

func validateID(id string) bool {
	return idPattern.MatchString(id)
}

// RunTurn executes one chat turn: validate, resolve the caller, bridge any
// attachments or a remembered-context question, then persist both messages
// of the turn as one atomic append. Bridge failures degrade the reply to a
// fixed diagnostic; they never fail the turn.
func (a *App) RunTurn(ctx context.Context, req TurnRequest) (string, error) {
	log := util.LoggerFromContext(ctx)

	text := strings.TrimSpace(req.Text)
	if !validateID(req.ThreadID) {
		return "", fmt.Errorf("%w: threadId", ErrInvalidArgument)
	}
	if !validateID(req.UserID) {
		return "", fmt.Errorf("%w: userId", ErrInvalidArgument)
	}
	if text == "" && len(req.Files) == 0 {
		return "", fmt.Errorf("%w: message or files required", ErrInvalidArgument)
	}
	if req.Role == domain.RoleNameAssistant {
		return "", fmt.Errorf("%w: role %q is reserved", ErrInvalidArgument, req.Role)
	}
	if err := a.checkFiles(req.Files); err != nil {
		return "", err
	}

	user, ok, err := a.cfg.Store.GetUserByID(req.UserID)
	if err != nil {
		return "", fmt.Errorf("%w: load user: %v", ErrUnavailable, err)
	}
	if !ok {
		return "", fmt.Errorf("%w: unknown user", ErrUnauthenticated)
	}
	role := req.Role
	switch {
	case role == "":
		if a.cfg.RequireRole {
			return "", fmt.Errorf("%w: role is required", ErrInvalidArgument)
		}
		role = string(user.Role)
	case role != string(user.Role):
		return "", fmt.Errorf("%w: claimed %q, stored %q", ErrRoleMismatch, role, user.Role)
	}

	reply, bridged := a.bridgeTurn(ctx, log, req, text, role)
	if !bridged {
		reply = fmt.Sprintf(
			`This is a hardcoded response from the server. I received your message: "%s" and %d file(s).`,
			text, len(req.Files),
		)
	}

	fileNames := make([]string, 0, len(req.Files))
	for _, f := range req.Files {
		fileNames = append(fileNames, f.Name)
	}
	now := time.Now().UTC()
	userMsg := domain.Message{
		ID:          util.NewID(),
		Role:        domain.RoleNameUser,
		Content:     marker.Encode(text, fileNames),
		Name:        user.Name,
		AuthorID:    user.ID,
		Attachments: fileNames,
		Timestamp:   now,
	}
	assistantMsg := domain.Message{
		ID:        util.NewID(),
		Role:      domain.RoleNameAssistant,
		Content:   reply,
		Name:      domain.RoleNameAssistant,
		Timestamp: now,
	}
	if _, err := a.cfg.Store.AppendTurn(req.ThreadID, req.UserID, userMsg, assistantMsg); err != nil {
		return "", fmt.Errorf("%w: append turn: %v", ErrUnavailable, err)
	}
	return reply, nil
}

// bridgeTurn runs the Bridging phase. It returns the assistant reply and
// whether any exchange happened; when no exchange applies the caller falls
// back to the canned reply.
func (a *App) bridgeTurn(ctx context.Context, log *slog.Logger, req TurnRequest, text, role string) (string, bool) {
	if len(req.Files) > 0 {
		outcomes := make([]string, 0, len(req.Files))
		for _, f := range req.Files {
			a.saveToSink(ctx, log, req, f)
			outcome, err := a.cfg.Bridge.Upload(ctx, f.Name, f.Size, text, f.Data)
			if err != nil {
				log.Warn("bridge upload failed",
					"thread", req.ThreadID, "owner", req.UserID, "file", f.Name, "error", err)
				outcome = bridge.Diagnostic(err)
			} else if err := a.cfg.Contexts.RememberFile(ctx, req.UserID, req.ThreadID, f.Name); err != nil {
				log.Warn("remember context failed",
					"thread", req.ThreadID, "owner", req.UserID, "error", err)
			}
			outcomes = append(outcomes, outcome)
		}
		return strings.Join(outcomes, "\n\n"), true
	}

	lastFile, ok, err := a.cfg.Contexts.LastFile(ctx, req.UserID, req.ThreadID)
	if err != nil {
		log.Warn("load context failed",
			"thread", req.ThreadID, "owner", req.UserID, "error", err)
		return "", false
	}
	if !ok {
		return "", false
	}
	answer, err := a.cfg.Bridge.Query(ctx, text, role, lastFile)
	if err != nil {
		log.Warn("bridge query failed",
			"thread", req.ThreadID, "owner", req.UserID, "file", lastFile, "error", err)
		answer = bridge.Diagnostic(err)
	}
	return answer, true
}

func (a *App) saveToSink(ctx context.Context, log *slog.Logger, req TurnRequest, f TurnFile) {
	if a.cfg.Sink == nil {
		return
	}
	threadKey := req.UserID + "_" + req.ThreadID
	if err := a.cfg.Sink.Save(ctx, threadKey, f.Name, bytes.NewReader(f.Data), f.Size); err != nil {
		log.Warn("sink save failed",
			"thread", req.ThreadID, "owner", req.UserID, "file", f.Name, "error", err)
	}
}

func (a *App) checkFiles(files []TurnFile) error {
	for _, f := range files {
		if strings.TrimSpace(f.Name) == "" {
			return fmt.Errorf("%w: attachment name required", ErrInvalidArgument)
		}
		if a.cfg.MaxUploadBytes > 0 && f.Size > a.cfg.MaxUploadBytes {
			return fmt.Errorf("%w: %s exceeds upload limit", ErrInvalidArgument, f.Name)
		}
		if len(a.cfg.AllowedExtensions) > 0 {
			ext := strings.ToLower(filepath.Ext(f.Name))
			allowed := false
			for _, e := range a.cfg.AllowedExtensions {
				if ext == e {
					allowed = true
					break
				}
			}
			if !allowed {
				return fmt.Errorf("%w: extension %q not allowed", ErrInvalidArgument, ext)
			}
		}
	}
	return nil
}

// ListThreads returns thread summaries, newest first. An empty userID is
// the administrative listing across all owners.
func (a *App) ListThreads(ctx context.Context, userID string) ([]domain.ThreadSummary, error) {
	if userID != "" && !validateID(userID) {
		return nil, fmt.Errorf("%w: userId", ErrInvalidArgument)
	}
	summaries, err := a.cfg.Store.ListThreads(userID)
	if err != nil {
		return nil, fmt.Errorf("%w: list threads: %v", ErrUnavailable, err)
	}
	return summaries, nil
}

// GetThread returns one thread with inline attachment markers decoded:
// message content comes back clean and marker names are merged into the
// structured attachment list without duplicates. An empty userID is an
// administrative lookup resolving the newest thread with that id across
// owners.
func (a *App) GetThread(ctx context.Context, threadID, userID string) (domain.Thread, error) {
	if !validateID(threadID) {
		return domain.Thread{}, fmt.Errorf("%w: threadId", ErrInvalidArgument)
	}
	if userID != "" && !validateID(userID) {
		return domain.Thread{}, fmt.Errorf("%w: userId", ErrInvalidArgument)
	}
	thread, ok, err := a.cfg.Store.GetThread(threadID, userID)
	if err != nil {
		return domain.Thread{}, fmt.Errorf("%w: load thread: %v", ErrUnavailable, err)
	}
	if !ok {
		return domain.Thread{}, fmt.Errorf("%w: thread %s", ErrNotFound, threadID)
	}
	for i := range thread.Messages {
		clean, names := marker.Decode(thread.Messages[i].Content)
		thread.Messages[i].Content = clean
		thread.Messages[i].Attachments = mergeNames(thread.Messages[i].Attachments, names)
	}
	return thread, nil
}

// mergeNames appends entries of extra that are not already present,
// preserving order.
func mergeNames(base, extra []string) []string {
	if len(extra) == 0 {
		return base
	}
	seen := make(map[string]struct{}, len(base))
	for _, n := range base {
		seen[n] = struct{}{}
	}
	out := base
	for _, n := range extra {
		if _, dup := seen[n]; dup {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out
}

// InitState is the session bootstrap payload: all summaries plus the most
// recently updated thread in full, if any.
type InitState struct {
	Threads    []domain.ThreadSummary `json:"threads"`
	LastThread *domain.Thread         `json:"lastThread"`
}

// Init loads everything a client needs to restore a session.
func (a *App) Init(ctx context.Context, userID string) (InitState, error) {
	summaries, err := a.ListThreads(ctx, userID)
	if err != nil {
		return InitState{}, err
	}
	state := InitState{Threads: summaries}
	if len(summaries) > 0 {
		last, err := a.GetThread(ctx, summaries[0].ThreadID, userID)
		if err != nil {
			return InitState{}, err
		}
		state.LastThread = &last
	}
	return state, nil
}

// DeleteThread removes a thread and its remembered upload context. An
// empty userID is an administrative delete, scoped like GetThread.
func (a *App) DeleteThread(ctx context.Context, threadID, userID string) error {
	if !validateID(threadID) {
		return fmt.Errorf("%w: threadId", ErrInvalidArgument)
	}
	if userID != "" && !validateID(userID) {
		return fmt.Errorf("%w: userId", ErrInvalidArgument)
	}
	// On an administrative delete the remembered context lives under the
	// thread's actual owner, so resolve it before the row disappears.
	owner := userID
	if userID == "" {
		if t, ok, err := a.cfg.Store.GetThread(threadID, ""); err == nil && ok {
			owner = t.OwnerID
		}
	}
	ok, err := a.cfg.Store.DeleteThread(threadID, userID)
	if err != nil {
		return fmt.Errorf("%w: delete thread: %v", ErrUnavailable, err)
	}
	if !ok {
		return fmt.Errorf("%w: thread %s", ErrNotFound, threadID)
	}
	if err := a.cfg.Contexts.Clear(ctx, owner, threadID); err != nil {
		util.LoggerFromContext(ctx).Warn("clear context failed",
			"thread", threadID, "owner", owner, "error", err)
	}
	return nil
}

// CreateUser registers a new user. The assistant role is reserved and the
// name must be unique.
func (a *App) CreateUser(ctx context.Context, name, role, secret string) (domain.User, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return domain.User{}, fmt.Errorf("%w: name required", ErrInvalidArgument)
	}
	if secret == "" {
		return domain.User{}, fmt.Errorf("%w: password required", ErrInvalidArgument)
	}
	parsed, ok := domain.ParseUserRole(role)
	if !ok {
		return domain.User{}, fmt.Errorf("%w: role %q", ErrInvalidArgument, role)
	}
	taken, err := a.cfg.Store.HasUserName(name)
	if err != nil {
		return domain.User{}, fmt.Errorf("%w: check name: %v", ErrUnavailable, err)
	}
	if taken {
		return domain.User{}, fmt.Errorf("%w: name %q", ErrAlreadyExists, name)
	}
	hash, err := auth.HashSecret(secret)
	if err != nil {
		return domain.User{}, fmt.Errorf("hash secret: %w", err)
	}
	now := time.Now().UTC()
	user := domain.User{
		ID:         util.NewID(),
		Name:       name,
		SecretHash: hash,
		Role:       parsed,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := a.cfg.Store.SaveUser(user); err != nil {
		return domain.User{}, fmt.Errorf("%w: save user: %v", ErrUnavailable, err)
	}
	return user, nil
}

// Login validates credentials and issues a session token.
func (a *App) Login(ctx context.Context, name, secret string) (domain.User, string, error) {
	user, ok, err := a.cfg.Store.GetUserByName(strings.TrimSpace(name))
	if err != nil {
		return domain.User{}, "", fmt.Errorf("%w: load user: %v", ErrUnavailable, err)
	}
	if !ok || !auth.CheckSecret(secret, user.SecretHash) {
		return domain.User{}, "", fmt.Errorf("%w: bad credentials", ErrUnauthenticated)
	}
	token := ""
	if a.cfg.Sessions != nil {
		token, err = a.cfg.Sessions.NewSession(user.ID)
		if err != nil {
			return domain.User{}, "", fmt.Errorf("%w: new session: %v", ErrUnavailable, err)
		}
	}
	return user, token, nil
}

// ListUsers returns all registered users.
func (a *App) ListUsers(ctx context.Context) ([]domain.User, error) {
	users, err := a.cfg.Store.ListUsers()
	if err != nil {
		return nil, fmt.Errorf("%w: list users: %v", ErrUnavailable, err)
	}
	return users, nil
}
