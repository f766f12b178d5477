package state

// Action is a named state transition. All mutations of AppState are
// expressed as one of the concrete action types below and applied by
// Reduce. Actions carry any timestamps they need so the reducer stays a
// pure function.
type Action interface {
	isAction()
}

// SetLoading toggles the global loading flag.
type SetLoading struct {
	Loading bool
}

// SetError sets the error banner. An empty message clears it.
type SetError struct {
	Message string
}

// LoginSuccess marks the user session authenticated. It does not by
// itself populate the session list.
type LoginSuccess struct {
	UserID string
}

// Logout resets to the initial state, preserving only the static
// application config.
type Logout struct{}

// SetConfig stores the static application config.
type SetConfig struct {
	Config *AppConfig
}

// SetCurrentSession replaces the active session projection.
type SetCurrentSession struct {
	Current *CurrentChatSession
}

// SetChatSessions replaces the full session list without touching the
// active session projection.
type SetChatSessions struct {
	Sessions []ChatSession
}

// CreateChatSession appends the session to the list and activates it in
// the same transition, so no render can observe the list containing a
// session absent from the active view.
type CreateChatSession struct {
	Session ChatSession
}

// AppendMessage appends a message to the active session's history and
// mirrors the append into the matching session list entry. A no-op when
// no session is active.
type AppendMessage struct {
	Message ChatMessage
	At      string
}

// UpdateStreamingContent applies one streaming frame to the session the
// stream belongs to. Each frame carries the complete accumulated text,
// not a delta: if the session's last message is an unsealed assistant
// message its content is replaced, otherwise a fresh unsealed assistant
// message is appended.
type UpdateStreamingContent struct {
	ChatID  string
	Content string
}

// SealLastMessage finalizes the streaming turn for a session by
// timestamping its last assistant message. Sealed messages never receive
// further streamed content.
type SealLastMessage struct {
	ChatID string
	At     string
	Usage  *UsageMetadata
	Charge *ChargeResult
}

// SetResponding toggles the in-flight turn flag.
type SetResponding struct {
	Responding bool
}

// SetPendingSchema stores or clears the tool-parameter negotiation.
type SetPendingSchema struct {
	Schema *ToolSchema
}

// SetPendingToolResponse stores the assistant text displayed alongside a
// pending negotiation.
type SetPendingToolResponse struct {
	Content string
}

// SetFiles replaces the workspace file list.
type SetFiles struct {
	Files []FileInfo
}

// ClearHistory truncates a session's history to empty.
type ClearHistory struct {
	ChatID string
	At     string
}

// RenameSession changes a session's title.
type RenameSession struct {
	ChatID string
	Title  string
}

// RemoveSession removes a session from the list. Selecting a replacement
// for a removed active session is the caller's responsibility.
type RemoveSession struct {
	ChatID string
}

func (SetLoading) isAction()             {}
func (SetError) isAction()               {}
func (LoginSuccess) isAction()           {}
func (Logout) isAction()                 {}
func (SetConfig) isAction()              {}
func (SetCurrentSession) isAction()      {}
func (SetChatSessions) isAction()        {}
func (CreateChatSession) isAction()      {}
func (AppendMessage) isAction()          {}
func (UpdateStreamingContent) isAction() {}
func (SealLastMessage) isAction()        {}
func (SetResponding) isAction()          {}
func (SetPendingSchema) isAction()       {}
func (SetPendingToolResponse) isAction() {}
func (SetFiles) isAction()               {}
func (ClearHistory) isAction()           {}
func (RenameSession) isAction()          {}
func (RemoveSession) isAction()          {}
