// Package client implements the request/response operations against the
// remote session store: authentication, session list fetch/save, pending
// tool-schema negotiation, and workspace file management. The remote
// store is treated as an unreliable collaborator; callers decide whether
// a failure degrades to the local cache or is surfaced.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-logr/logr"

	apperrors "github.com/pilot-dev/pilot/pkg/app/errors"
	"github.com/pilot-dev/pilot/pkg/app/state"
)

const (
	// MaxUploadSize is the local precondition on upload size, checked
	// before any network call.
	MaxUploadSize = 50 * 1024 * 1024
)

// allowedUploadExts are the workspace file types the backend accepts.
var allowedUploadExts = map[string]bool{
	".txt": true, ".json": true, ".yaml": true, ".yml": true,
	".csv": true, ".dat": true, ".xyz": true, ".cif": true,
	".vasp": true, ".poscar": true, ".pdf": true, ".md": true,
}

// Client talks to the remote session store over HTTP.
type Client struct {
	baseURL    string
	httpClient *http.Client
	log        logr.Logger
}

// New creates a Client for the given base URL.
func New(baseURL string, log logr.Logger) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
		log:        log.WithName("client"),
	}
}

// BaseURL returns the configured server base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Login authenticates the opaque session token. Any well-formed token is
// accepted by the backend as a fresh or returning workspace.
func (c *Client) Login(ctx context.Context, sessionID string) error {
	body := map[string]string{"session_id": sessionID}
	return c.doJSON(ctx, http.MethodPost, "/api/login", body, nil, apperrors.ErrCodeAuthFailed)
}

// GetConfig fetches the static application config.
func (c *Client) GetConfig(ctx context.Context) (*state.AppConfig, error) {
	var cfg state.AppConfig
	if err := c.doJSON(ctx, http.MethodGet, "/api/config", nil, &cfg, apperrors.ErrCodeConfigLoad); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// GetUserSessions fetches the user's chat sessions from the remote store.
func (c *Client) GetUserSessions(ctx context.Context, userID string) ([]state.ChatSession, error) {
	var out struct {
		Sessions []state.ChatSession `json:"sessions"`
	}
	path := fmt.Sprintf("/api/user/%s/sessions", url.PathEscape(userID))
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &out, apperrors.ErrCodeSessionLoad); err != nil {
		return nil, err
	}
	return out.Sessions, nil
}

// SaveUserSessions persists the full session list to the remote store.
func (c *Client) SaveUserSessions(ctx context.Context, userID string, sessions []state.ChatSession) error {
	body := map[string]any{"sessions": sessions}
	path := fmt.Sprintf("/api/user/%s/sessions", url.PathEscape(userID))
	return c.doJSON(ctx, http.MethodPost, path, body, nil, apperrors.ErrCodeSessionSave)
}

// GetCurrentSchema fetches the pending tool-parameter schema, or nil when
// no negotiation is pending.
func (c *Client) GetCurrentSchema(ctx context.Context, userID string) (*state.ToolSchema, error) {
	var out struct {
		Schema *state.ToolSchema `json:"schema"`
	}
	path := fmt.Sprintf("/api/schema/%s", url.PathEscape(userID))
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &out, apperrors.ErrCodeSchemaFetch); err != nil {
		return nil, err
	}
	if out.Schema.Empty() {
		return nil, nil
	}
	return out.Schema, nil
}

// ModifyParameters submits the human-edited schema as the resolution of
// the pending negotiation.
func (c *Client) ModifyParameters(ctx context.Context, userID string, schema *state.ToolSchema) error {
	body := map[string]any{
		"session_id":      userID,
		"modified_schema": schema,
	}
	return c.doJSON(ctx, http.MethodPost, "/api/modify-params", body, nil, apperrors.ErrCodeSchemaSubmit)
}

// ClearChatHistory asks the backend to drop its copy of a chat history.
func (c *Client) ClearChatHistory(ctx context.Context, chatID string) error {
	path := fmt.Sprintf("/api/sessions/%s/clear", url.PathEscape(chatID))
	return c.doJSON(ctx, http.MethodPost, path, nil, nil, apperrors.ErrCodeSessionSave)
}

// ListFiles fetches the user's workspace file list.
func (c *Client) ListFiles(ctx context.Context, userID string) ([]state.FileInfo, error) {
	var out struct {
		Files []state.FileInfo `json:"files"`
	}
	path := fmt.Sprintf("/api/files/%s", url.PathEscape(userID))
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &out, apperrors.ErrCodeFileOperation); err != nil {
		return nil, err
	}
	return out.Files, nil
}

// ValidateUpload runs the local precondition checks for one upload
// candidate. It never touches the network.
func ValidateUpload(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return apperrors.New(apperrors.ErrCodeFileOperation, "failed to stat file", err)
	}
	if info.IsDir() {
		return apperrors.New(apperrors.ErrCodeInvalidInput, "directories cannot be uploaded", nil)
	}
	if info.Size() > MaxUploadSize {
		return apperrors.New(apperrors.ErrCodeInvalidInput,
			fmt.Sprintf("file too large: %d bytes (max: %d)", info.Size(), MaxUploadSize), nil)
	}
	ext := strings.ToLower(filepath.Ext(path))
	if !allowedUploadExts[ext] {
		return apperrors.New(apperrors.ErrCodeInvalidInput,
			fmt.Sprintf("unsupported file type: %q", ext), nil)
	}
	return nil
}

// UploadFiles uploads local files into the user's workspace. Every path
// must pass ValidateUpload before any bytes are sent.
func (c *Client) UploadFiles(ctx context.Context, userID string, paths []string) error {
	for _, p := range paths {
		if err := ValidateUpload(p); err != nil {
			return err
		}
	}

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	for _, p := range paths {
		f, err := os.Open(p)
		if err != nil {
			return apperrors.New(apperrors.ErrCodeFileOperation, "failed to open file", err)
		}
		part, err := writer.CreateFormFile("files", filepath.Base(p))
		if err == nil {
			_, err = io.Copy(part, f)
		}
		f.Close()
		if err != nil {
			return apperrors.New(apperrors.ErrCodeFileOperation, "failed to build upload request", err)
		}
	}
	if err := writer.Close(); err != nil {
		return apperrors.New(apperrors.ErrCodeFileOperation, "failed to build upload request", err)
	}

	target := fmt.Sprintf("%s/api/upload/%s", c.baseURL, url.PathEscape(userID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, &buf)
	if err != nil {
		return apperrors.New(apperrors.ErrCodeFileOperation, "failed to create request", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return apperrors.New(apperrors.ErrCodeFileOperation, "failed to send request", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(resp.Body)
		return apperrors.New(apperrors.ErrCodeFileOperation,
			fmt.Sprintf("unexpected status %d: %s", resp.StatusCode, string(body)), nil)
	}
	return nil
}

// DeleteFile removes one workspace file.
func (c *Client) DeleteFile(ctx context.Context, userID, name string) error {
	path := fmt.Sprintf("/api/files/%s/%s", url.PathEscape(userID), url.PathEscape(name))
	return c.doJSON(ctx, http.MethodDelete, path, nil, nil, apperrors.ErrCodeFileOperation)
}

// DownloadURL returns the direct download URL for a workspace file.
func (c *Client) DownloadURL(userID, name string) string {
	return fmt.Sprintf("%s/api/download/%s/%s", c.baseURL, url.PathEscape(userID), url.PathEscape(name))
}

func (c *Client) doJSON(ctx context.Context, method, path string, body, out any, errCode string) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return apperrors.New(errCode, "failed to marshal request", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return apperrors.New(errCode, "failed to create request", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return apperrors.New(errCode, "failed to send request", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated &&
		resp.StatusCode != http.StatusNoContent {
		msg, _ := io.ReadAll(resp.Body)
		return apperrors.New(errCode,
			fmt.Sprintf("unexpected status %d: %s", resp.StatusCode, string(msg)), nil)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return apperrors.New(errCode, "failed to decode response", err)
		}
	}
	return nil
}
