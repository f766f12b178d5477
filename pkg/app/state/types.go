// Package state holds the client's conversation state machine: the data
// model, the pure reducer, and the store that serializes transitions.
package state

// Role identifies the author of a chat message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// UsageMetadata carries token accounting attached to a finalized message.
type UsageMetadata struct {
	PromptTokens    int `json:"prompt_tokens,omitempty"`
	CandidateTokens int `json:"candidates_tokens,omitempty"`
	TotalTokens     int `json:"total_tokens,omitempty"`
}

// ChargeResult carries the billing outcome attached to a finalized message.
type ChargeResult struct {
	Success bool    `json:"success"`
	Code    string  `json:"code"`
	Message string  `json:"message"`
	Amount  float64 `json:"amount,omitempty"`
}

// ChatMessage is a single entry in a conversation history. An assistant
// message without a timestamp is still streaming; attaching the timestamp
// seals it, after which its content is immutable.
type ChatMessage struct {
	Role      Role           `json:"role"`
	Content   string         `json:"content"`
	Timestamp string         `json:"timestamp,omitempty"`
	Usage     *UsageMetadata `json:"usage_metadata,omitempty"`
	Charge    *ChargeResult  `json:"charge_result,omitempty"`
}

// Sealed reports whether the message has been finalized.
func (m ChatMessage) Sealed() bool {
	return m.Timestamp != ""
}

// ChatSession is one conversation thread owned by a user session.
// MessageCount must equal len(History) after every mutation.
type ChatSession struct {
	ChatID       string        `json:"chat_id"`
	UserID       string        `json:"user_id"`
	Title        string        `json:"title"`
	History      []ChatMessage `json:"history"`
	CreatedAt    string        `json:"created_at"`
	LastActive   string        `json:"last_active"`
	MessageCount int           `json:"message_count"`
}

// CurrentChatSession is the projection of the active ChatSession that the
// UI renders. Its history must stay consistent with the matching entry in
// the session list.
type CurrentChatSession struct {
	ChatID  string        `json:"chat_id"`
	UserID  string        `json:"user_id"`
	Title   string        `json:"title"`
	History []ChatMessage `json:"history"`
}

// Project builds the renderable projection of a session.
func Project(s ChatSession) *CurrentChatSession {
	return &CurrentChatSession{
		ChatID:  s.ChatID,
		UserID:  s.UserID,
		Title:   s.Title,
		History: s.History,
	}
}

// FileInfo describes one file in the user's workspace.
type FileInfo struct {
	Name      string `json:"name"`
	Path      string `json:"path"`
	Size      int64  `json:"size"`
	UpdatedAt int64  `json:"updated_at,omitempty"`
}

// AgentInfo is the static description of the backend agent.
type AgentInfo struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Instruction string `json:"instruction"`
}

// AppConfig is the static application configuration fetched once at
// startup. It is not session-scoped and survives logout.
type AppConfig struct {
	AgentInfo     AgentInfo `json:"agent_info"`
	ToolServerURL string    `json:"mcp_server_url"`
	TargetTools   []string  `json:"target_tools"`
}

// PropertySchema describes one negotiable tool parameter. AgentInput is
// the value the agent proposed, UserInput the human override submitted
// back; both are kept so the resolution is auditable.
type PropertySchema struct {
	Title       string `json:"title,omitempty"`
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
	Default     any    `json:"default,omitempty"`
	AgentInput  any    `json:"agent_input,omitempty"`
	UserInput   any    `json:"user_input,omitempty"`
}

// InputSchema is the parameter block of a ToolSchema.
type InputSchema struct {
	Properties map[string]PropertySchema `json:"properties"`
}

// ToolSchema is a pending tool-parameter negotiation. A non-nil schema
// means the conversation is suspended awaiting human confirmation.
type ToolSchema struct {
	Name        string      `json:"name"`
	Description string      `json:"description,omitempty"`
	InputSchema InputSchema `json:"input_schema"`
}

// Empty reports whether the schema carries no negotiation.
func (s *ToolSchema) Empty() bool {
	return s == nil || s.Name == ""
}

// AppState is the single source of truth the UI renders.
type AppState struct {
	Authenticated bool
	UserID        string
	Current       *CurrentChatSession
	Sessions      []ChatSession
	Files         []FileInfo
	Config        *AppConfig
	Loading       bool
	Err           string
	Responding    bool

	// PendingSchema suspends the conversation while non-nil.
	PendingSchema *ToolSchema
	// PendingToolResponse is the assistant text shown alongside the
	// pending negotiation. Display value only, not the schema payload.
	PendingToolResponse string
}

// Session returns the session list entry with the given chat id, or nil.
func (s AppState) Session(chatID string) *ChatSession {
	for i := range s.Sessions {
		if s.Sessions[i].ChatID == chatID {
			return &s.Sessions[i]
		}
	}
	return nil
}
