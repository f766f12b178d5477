// Package app wires the conversation state store, the stream transport,
// the remote store client, the session synchronizer, and the negotiation
// poller into one explicit composition root. The store is created here
// and injected; nothing reaches it through ambient lookup.
package app

import (
	"context"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"

	"github.com/pilot-dev/pilot/pkg/app/cache"
	"github.com/pilot-dev/pilot/pkg/app/client"
	apperrors "github.com/pilot-dev/pilot/pkg/app/errors"
	"github.com/pilot-dev/pilot/pkg/app/negotiate"
	"github.com/pilot-dev/pilot/pkg/app/state"
	"github.com/pilot-dev/pilot/pkg/app/syncer"
	"github.com/pilot-dev/pilot/pkg/app/transport"
)

// sessionTokenPattern is the shape of an opaque user session token.
var sessionTokenPattern = regexp.MustCompile(`^[A-Za-z0-9]{32}$`)

// Config holds the client-side application configuration.
type Config struct {
	ServerURL    string
	CachePath    string
	PollInterval time.Duration
}

// App owns one authenticated client session end to end.
type App struct {
	Store  *state.Store
	Client *client.Client
	Stream *transport.Stream
	Cache  *cache.Store
	Syncer *syncer.Syncer
	Poller *negotiate.Poller

	log logr.Logger
	now func() time.Time

	// turnMu guards turnChat, which is written by the send path and read
	// by the stream's read pump.
	turnMu sync.Mutex
	// turnChat is the chat id the in-flight streamed turn belongs to.
	// Frames that do not carry their own chat id are attributed to it.
	turnChat string

	// cancelSession stops the poller and cache watcher on logout.
	cancelSession context.CancelFunc
}

// New builds the application from configuration.
func New(cfg Config, log logr.Logger) (*App, error) {
	localCache, err := cache.Open(cfg.CachePath, log)
	if err != nil {
		return nil, err
	}

	store := state.NewStore(log)
	remote := client.New(cfg.ServerURL, log)

	return &App{
		Store:  store,
		Client: remote,
		Stream: transport.NewStream(cfg.ServerURL, log),
		Cache:  localCache,
		Syncer: syncer.New(store, remote, localCache, log),
		Poller: negotiate.NewPoller(remote, store, cfg.PollInterval, log),
		log:    log.WithName("app"),
		now:    time.Now,
	}, nil
}

// ValidateSessionToken checks the 32-character alphanumeric token shape.
func ValidateSessionToken(token string) error {
	if !sessionTokenPattern.MatchString(token) {
		return apperrors.New(apperrors.ErrCodeInvalidInput,
			"session token must be 32 alphanumeric characters", nil)
	}
	return nil
}

// GenerateSessionToken creates a fresh 32-character session token.
func GenerateSessionToken() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// Init fetches the static application config. Failures are tolerated;
// startup metadata is a convenience, not a prerequisite.
func (a *App) Init(ctx context.Context) {
	cfg, err := a.Client.GetConfig(ctx)
	if err != nil {
		a.log.V(1).Info("config fetch failed", "reason", err.Error())
		return
	}
	a.Store.Dispatch(state.SetConfig{Config: cfg})
}

// Login authenticates the session token, connects the stream, reconciles
// the session list, and starts the background activities. A stream
// connect failure is surfaced as a session-level error banner but does
// not abort the login.
func (a *App) Login(ctx context.Context, token string) error {
	if err := ValidateSessionToken(token); err != nil {
		return err
	}

	a.Store.Dispatch(state.SetLoading{Loading: true})
	defer a.Store.Dispatch(state.SetLoading{Loading: false})
	a.Store.Dispatch(state.SetError{})

	if err := a.Client.Login(ctx, token); err != nil {
		a.Store.Dispatch(state.SetError{Message: err.Error()})
		return err
	}
	a.Store.Dispatch(state.LoginSuccess{UserID: token})

	if err := a.Stream.Connect(ctx, token); err != nil {
		a.Store.Dispatch(state.SetError{Message: err.Error()})
	} else {
		a.Stream.OnFrame(a.handleFrame)
	}

	if err := a.Syncer.LoadOnLogin(ctx, token); err != nil {
		a.Store.Dispatch(state.SetError{Message: err.Error()})
		return err
	}

	// Background activities live until logout, not until this call's
	// context ends.
	sessionCtx, cancel := context.WithCancel(context.Background())
	a.cancelSession = cancel
	a.Poller.Start(sessionCtx, token)
	a.Syncer.Watch(sessionCtx, token)

	a.LoadFiles(ctx)
	return nil
}

// Logout tears the session down: close the stream and drop its handlers,
// stop the poller and watcher, and reset state preserving only the
// static config.
func (a *App) Logout() {
	if a.cancelSession != nil {
		a.cancelSession()
		a.cancelSession = nil
	}
	a.Stream.Disconnect()
	a.setTurn("")
	a.Store.Dispatch(state.Logout{})
}

// Close releases resources held by the app.
func (a *App) Close() error {
	return a.Cache.Close()
}

// SendMessage starts one chat turn: append the timestamped user message,
// append the empty assistant placeholder, raise responding, transmit.
// A send on a closed stream fails before any optimistic mutation; a
// transmit failure clears the responding flag so it never dangles.
func (a *App) SendMessage(text string) error {
	snap := a.Store.State()
	if !snap.Authenticated || snap.Current == nil {
		return apperrors.New(apperrors.ErrCodeInvalidInput, "no active chat session", nil)
	}
	if snap.Responding {
		return apperrors.New(apperrors.ErrCodeInvalidInput, "a turn is already in flight", nil)
	}
	if !a.Stream.Connected() {
		return apperrors.New(apperrors.ErrCodeStreamSend, "stream is not connected", nil)
	}

	chatID := snap.Current.ChatID
	now := a.now().UTC().Format(time.RFC3339)

	a.Store.Dispatch(state.AppendMessage{
		Message: state.ChatMessage{Role: state.RoleUser, Content: text, Timestamp: now},
		At:      now,
	})
	a.Store.Dispatch(state.AppendMessage{
		Message: state.ChatMessage{Role: state.RoleAssistant},
		At:      now,
	})
	a.Store.Dispatch(state.SetResponding{Responding: true})
	a.setTurn(chatID)

	if err := a.Stream.Send(text, chatID); err != nil {
		a.Store.Dispatch(state.SetResponding{Responding: false})
		a.Store.Dispatch(state.SetError{Message: err.Error()})
		a.setTurn("")
		return err
	}
	return nil
}

// handleFrame translates one inbound stream frame into reducer
// transitions. Streaming updates are keyed by the chat id the stream
// belongs to, so a session switch mid-stream cannot corrupt the newly
// active session and a late final event seals the session it was issued
// against.
func (a *App) handleFrame(frame transport.Frame) {
	chatID := frame.ChatID
	if chatID == "" {
		chatID = a.turn()
	}

	switch frame.Type {
	case transport.FrameStreaming:
		a.Store.Dispatch(state.UpdateStreamingContent{ChatID: chatID, Content: frame.Content})

	case transport.FrameFinal:
		a.Store.Dispatch(state.UpdateStreamingContent{ChatID: chatID, Content: frame.Content})
		a.Store.Dispatch(state.SealLastMessage{
			ChatID: chatID,
			At:     a.now().UTC().Format(time.RFC3339),
			Usage:  frame.Usage,
			Charge: frame.Charge,
		})
		a.Store.Dispatch(state.SetResponding{Responding: false})
		a.setTurn("")

	case transport.FrameError:
		a.Store.Dispatch(state.SetError{Message: frame.Message})
		a.Store.Dispatch(state.SetResponding{Responding: false})

	case transport.FrameToolModify:
		// The turn suspends awaiting human confirmation; the schema
		// itself arrives via the poller.
		if session := a.Store.State().Session(chatID); session != nil {
			if n := len(session.History); n > 0 && session.History[n-1].Role == state.RoleAssistant {
				a.Store.Dispatch(state.SetPendingToolResponse{Content: session.History[n-1].Content})
			}
		}
		a.Store.Dispatch(state.SetResponding{Responding: false})
		a.setTurn("")

	default:
		a.log.V(1).Info("ignoring unknown frame type", "type", frame.Type)
	}
}

func (a *App) setTurn(chatID string) {
	a.turnMu.Lock()
	a.turnChat = chatID
	a.turnMu.Unlock()
}

func (a *App) turn() string {
	a.turnMu.Lock()
	defer a.turnMu.Unlock()
	return a.turnChat
}

// CreateSession starts a new conversation thread and activates it.
func (a *App) CreateSession(ctx context.Context) (state.ChatSession, error) {
	snap := a.Store.State()
	if !snap.Authenticated {
		return state.ChatSession{}, apperrors.New(apperrors.ErrCodeAuthFailed, "not authenticated", nil)
	}
	return a.Syncer.CreateSession(ctx, snap.UserID)
}

// SwitchSession activates an existing session by chat id.
func (a *App) SwitchSession(chatID string) error {
	snap := a.Store.State()
	if session := snap.Session(chatID); session != nil {
		a.Store.Dispatch(state.SetCurrentSession{Current: state.Project(*session)})
		return nil
	}

	// The list may be ahead of this snapshot; the cache is the fallback.
	cached, err := a.Cache.LoadSessions(snap.UserID)
	if err == nil {
		for _, session := range cached {
			if session.ChatID == chatID {
				a.Store.Dispatch(state.SetCurrentSession{Current: state.Project(session)})
				return nil
			}
		}
	}
	return apperrors.New(apperrors.ErrCodeInvalidInput, "unknown chat session: "+chatID, nil)
}

// DeleteSession removes a session, reselecting a valid active session.
func (a *App) DeleteSession(ctx context.Context, chatID string) error {
	snap := a.Store.State()
	if !snap.Authenticated {
		return apperrors.New(apperrors.ErrCodeAuthFailed, "not authenticated", nil)
	}
	return a.Syncer.DeleteSession(ctx, snap.UserID, chatID)
}

// ClearHistory truncates the active session's history. The backend's copy
// is cleared best-effort.
func (a *App) ClearHistory(ctx context.Context) error {
	snap := a.Store.State()
	if snap.Current == nil {
		return apperrors.New(apperrors.ErrCodeInvalidInput, "no active chat session", nil)
	}
	chatID := snap.Current.ChatID
	if err := a.Client.ClearChatHistory(ctx, chatID); err != nil {
		a.log.Info("remote history clear failed", "reason", err.Error())
	}
	return a.Syncer.ClearHistory(ctx, snap.UserID, chatID)
}

// RenameSession retitles a session and persists the list.
func (a *App) RenameSession(ctx context.Context, chatID, title string) error {
	a.Store.Dispatch(state.RenameSession{ChatID: chatID, Title: title})
	if err := a.Syncer.Persist(ctx, a.Store.State().UserID); err != nil {
		a.log.Info("persisting rename failed", "reason", err.Error())
	}
	return nil
}

// SubmitParameters merges the human edits into the pending schema and
// submits it, completing the suspend/resume cycle. A validation or
// submission failure leaves the negotiation pending for retry.
func (a *App) SubmitParameters(ctx context.Context, edits map[string]any) error {
	snap := a.Store.State()
	merged, err := negotiate.MergeUserInputs(snap.PendingSchema, edits)
	if err != nil {
		return err
	}
	if err := a.Client.ModifyParameters(ctx, snap.UserID, merged); err != nil {
		return err
	}
	a.Store.Dispatch(state.SetPendingSchema{Schema: nil})
	a.Store.Dispatch(state.SetPendingToolResponse{})
	a.Poller.Forget()
	return nil
}

// LoadFiles refreshes the workspace file list, best-effort.
func (a *App) LoadFiles(ctx context.Context) {
	snap := a.Store.State()
	if !snap.Authenticated {
		return
	}
	files, err := a.Client.ListFiles(ctx, snap.UserID)
	if err != nil {
		a.log.V(1).Info("file list load failed", "reason", err.Error())
		return
	}
	a.Store.Dispatch(state.SetFiles{Files: files})
}

// UploadFiles uploads local files and refreshes the file list.
func (a *App) UploadFiles(ctx context.Context, paths []string) error {
	snap := a.Store.State()
	a.Store.Dispatch(state.SetLoading{Loading: true})
	defer a.Store.Dispatch(state.SetLoading{Loading: false})

	if err := a.Client.UploadFiles(ctx, snap.UserID, paths); err != nil {
		a.Store.Dispatch(state.SetError{Message: err.Error()})
		return err
	}
	a.LoadFiles(ctx)
	return nil
}

// DeleteFile removes one workspace file and refreshes the file list.
func (a *App) DeleteFile(ctx context.Context, name string) error {
	snap := a.Store.State()
	if err := a.Client.DeleteFile(ctx, snap.UserID, name); err != nil {
		return err
	}
	a.LoadFiles(ctx)
	return nil
}
