// Package mockagent is an in-memory stand-in for the agent backend. It
// implements the full remote surface the client depends on (login,
// config, session store, schema negotiation, files, and the chat
// stream) and backs both the integration tests and the `pilot
// mockagent` development command.
package mockagent

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pilot-dev/pilot/pkg/app/state"
)

// ToolTrigger in a chat message makes the agent suspend into a
// parameter negotiation instead of answering directly.
const ToolTrigger = "use tool"

// Server is the mock backend.
type Server struct {
	router   *mux.Router
	upgrader websocket.Upgrader

	mu          sync.Mutex
	sessions    map[string][]state.ChatSession
	pending     map[string]*state.ToolSchema
	submissions map[string][]*state.ToolSchema
	files       map[string][]state.FileInfo
}

// NewServer creates a mock backend with no state.
func NewServer() *Server {
	s := &Server{
		upgrader:    websocket.Upgrader{},
		sessions:    make(map[string][]state.ChatSession),
		pending:     make(map[string]*state.ToolSchema),
		submissions: make(map[string][]*state.ToolSchema),
		files:       make(map[string][]state.FileInfo),
	}

	r := mux.NewRouter()
	r.HandleFunc("/api/login", s.handleLogin).Methods("POST")
	r.HandleFunc("/api/config", s.handleConfig).Methods("GET")
	r.HandleFunc("/api/user/{id}/sessions", s.handleGetSessions).Methods("GET")
	r.HandleFunc("/api/user/{id}/sessions", s.handleSaveSessions).Methods("POST")
	r.HandleFunc("/api/schema/{id}", s.handleGetSchema).Methods("GET")
	r.HandleFunc("/api/modify-params", s.handleModifyParams).Methods("POST")
	r.HandleFunc("/api/sessions/{id}/clear", s.handleClearHistory).Methods("POST")
	r.HandleFunc("/api/files/{id}", s.handleListFiles).Methods("GET")
	r.HandleFunc("/api/files/{id}/{name}", s.handleDeleteFile).Methods("DELETE")
	r.HandleFunc("/api/upload/{id}", s.handleUpload).Methods("POST")
	r.HandleFunc("/api/download/{id}/{name}", s.handleDownload).Methods("GET")
	r.HandleFunc("/ws/chat/{id}", s.handleChat)
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")
	s.router = r
	return s
}

// Handler returns the backend's HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// negotiableTool is the tool whose parameters the mock agent asks the
// human to confirm.
func negotiableTool() mcp.Tool {
	return mcp.NewTool("run_band_calculation",
		mcp.WithDescription("Run a tight-binding band structure calculation"),
		mcp.WithString("structure_file",
			mcp.Description("Input structure file name"),
			mcp.DefaultString("POSCAR"),
		),
		mcp.WithNumber("kpoint_density",
			mcp.Description("Density of the k-point path"),
			mcp.DefaultNumber(40),
		),
	)
}

// schemaFromTool converts an MCP tool definition into the negotiation
// wire shape, seeding AgentInput with the declared defaults.
func schemaFromTool(tool mcp.Tool) *state.ToolSchema {
	props := make(map[string]state.PropertySchema, len(tool.InputSchema.Properties))
	for name, raw := range tool.InputSchema.Properties {
		prop := state.PropertySchema{Title: name, Type: "string"}
		if m, ok := raw.(map[string]any); ok {
			if t, ok := m["type"].(string); ok {
				prop.Type = t
			}
			if d, ok := m["description"].(string); ok {
				prop.Description = d
			}
			if def, ok := m["default"]; ok {
				prop.Default = def
				prop.AgentInput = def
			}
		}
		props[name] = prop
	}
	return &state.ToolSchema{
		Name:        tool.Name,
		Description: tool.Description,
		InputSchema: state.InputSchema{Properties: props},
	}
}

// SetPendingSchema installs a pending negotiation for a user. Passing nil
// clears it.
func (s *Server) SetPendingSchema(userID string, schema *state.ToolSchema) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if schema == nil {
		delete(s.pending, userID)
		return
	}
	s.pending[userID] = schema
}

// Submissions returns the modified schemas submitted for a user.
func (s *Server) Submissions(userID string) []*state.ToolSchema {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*state.ToolSchema(nil), s.submissions[userID]...)
}

// SeedSessions installs a remote session list for a user.
func (s *Server) SeedSessions(userID string, sessions []state.ChatSession) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[userID] = sessions
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SessionID string `json:"session_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.SessionID == "" {
		http.Error(w, "session_id is required", http.StatusBadRequest)
		return
	}
	writeJSON(w, map[string]string{"message": "ok", "session_id": req.SessionID})
}

func (s *Server) handleConfig(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, state.AppConfig{
		AgentInfo: state.AgentInfo{
			Name:        "mock-agent",
			Description: "In-memory agent backend for development and tests",
			Instruction: "Echo the user's message back",
		},
		ToolServerURL: "http://localhost:0",
		TargetTools:   []string{"run_band_calculation"},
	})
}

func (s *Server) handleGetSessions(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["id"]
	s.mu.Lock()
	sessions := s.sessions[userID]
	s.mu.Unlock()
	writeJSON(w, map[string]any{"sessions": sessions})
}

func (s *Server) handleSaveSessions(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["id"]
	var req struct {
		Sessions []state.ChatSession `json:"sessions"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	s.sessions[userID] = req.Sessions
	s.mu.Unlock()
	writeJSON(w, map[string]string{"message": "saved"})
}

func (s *Server) handleGetSchema(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["id"]
	s.mu.Lock()
	schema := s.pending[userID]
	s.mu.Unlock()
	writeJSON(w, map[string]any{"schema": schema})
}

func (s *Server) handleModifyParams(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SessionID      string            `json:"session_id"`
		ModifiedSchema *state.ToolSchema `json:"modified_schema"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ModifiedSchema == nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	s.submissions[req.SessionID] = append(s.submissions[req.SessionID], req.ModifiedSchema)
	delete(s.pending, req.SessionID)
	s.mu.Unlock()
	writeJSON(w, map[string]string{"message": "parameters accepted"})
}

func (s *Server) handleClearHistory(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, map[string]string{"message": "cleared"})
}

func (s *Server) handleListFiles(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["id"]
	s.mu.Lock()
	files := s.files[userID]
	s.mu.Unlock()
	writeJSON(w, map[string]any{"files": files})
}

func (s *Server) handleDeleteFile(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	s.mu.Lock()
	kept := s.files[vars["id"]][:0]
	for _, f := range s.files[vars["id"]] {
		if f.Name != vars["name"] {
			kept = append(kept, f)
		}
	}
	s.files[vars["id"]] = kept
	s.mu.Unlock()
	writeJSON(w, map[string]string{"message": "deleted"})
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["id"]
	if err := r.ParseMultipartForm(64 << 20); err != nil {
		http.Error(w, "invalid multipart body", http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	for _, header := range r.MultipartForm.File["files"] {
		s.files[userID] = append(s.files[userID], state.FileInfo{
			Name:      header.Filename,
			Path:      "/workspace/" + header.Filename,
			Size:      header.Size,
			UpdatedAt: time.Now().Unix(),
		})
	}
	files := s.files[userID]
	s.mu.Unlock()
	writeJSON(w, map[string]any{"uploaded_files": files})
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	fmt.Fprintf(w, "contents of %s", mux.Vars(r)["name"])
}

// handleChat runs the stream: every inbound {message, chat_id} produces a
// word-by-word streamed reply (each frame carrying the accumulated text)
// followed by a final frame. A message containing ToolTrigger instead
// suspends into a negotiation built from the MCP tool definition.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["id"]
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	for {
		var in struct {
			Message string `json:"message"`
			ChatID  string `json:"chat_id"`
		}
		if err := conn.ReadJSON(&in); err != nil {
			return
		}

		if strings.Contains(strings.ToLower(in.Message), ToolTrigger) {
			s.mu.Lock()
			s.pending[userID] = schemaFromTool(negotiableTool())
			s.mu.Unlock()

			notice := "I need you to confirm the tool parameters before I continue."
			s.send(conn, map[string]any{"type": "streaming_response", "content": notice, "chat_id": in.ChatID})
			s.send(conn, map[string]any{"type": "tool_modify_required", "tool_name": "run_band_calculation", "chat_id": in.ChatID})
			continue
		}

		reply := "You said: " + in.Message
		words := strings.Fields(reply)
		accumulated := ""
		for _, word := range words[:len(words)-1] {
			if accumulated != "" {
				accumulated += " "
			}
			accumulated += word
			s.send(conn, map[string]any{"type": "streaming_response", "content": accumulated, "chat_id": in.ChatID})
		}
		s.send(conn, map[string]any{
			"type":    "final_response",
			"content": reply,
			"chat_id": in.ChatID,
			"usage_metadata": state.UsageMetadata{
				PromptTokens:    len(strings.Fields(in.Message)),
				CandidateTokens: len(words),
				TotalTokens:     len(strings.Fields(in.Message)) + len(words),
			},
		})
	}
}

func (s *Server) send(conn *websocket.Conn, frame map[string]any) {
	if err := conn.WriteJSON(frame); err != nil {
		// The peer went away; the read loop will notice.
		_ = err
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
