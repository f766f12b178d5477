package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pilot-dev/pilot/internal/mockagent"
	apperrors "github.com/pilot-dev/pilot/pkg/app/errors"
	"github.com/pilot-dev/pilot/pkg/app/state"
)

func newTestClient(t *testing.T) (*Client, *mockagent.Server) {
	t.Helper()
	backend := mockagent.NewServer()
	server := httptest.NewServer(backend.Handler())
	t.Cleanup(server.Close)
	return New(server.URL, logr.Discard()), backend
}

func TestLoginRoundTrip(t *testing.T) {
	c, _ := newTestClient(t)

	require.NoError(t, c.Login(context.Background(), "abcdef0123456789abcdef0123456789"))
}

func TestLoginFailureCarriesAuthCode(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "no", http.StatusUnauthorized)
	}))
	defer server.Close()
	c := New(server.URL, logr.Discard())

	err := c.Login(context.Background(), "abcdef0123456789abcdef0123456789")

	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeAuthFailed, apperrors.Code(err))
}

func TestGetConfig(t *testing.T) {
	c, _ := newTestClient(t)

	cfg, err := c.GetConfig(context.Background())

	require.NoError(t, err)
	assert.Equal(t, "mock-agent", cfg.AgentInfo.Name)
	assert.Contains(t, cfg.TargetTools, "run_band_calculation")
}

func TestSessionListRoundTrip(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()

	sessions := []state.ChatSession{
		{ChatID: "chat_1", UserID: "user_1", Title: "first", History: []state.ChatMessage{}},
	}
	require.NoError(t, c.SaveUserSessions(ctx, "user_1", sessions))

	got, err := c.GetUserSessions(ctx, "user_1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "chat_1", got[0].ChatID)
}

func TestGetCurrentSchemaNilWhenNothingPending(t *testing.T) {
	c, _ := newTestClient(t)

	schema, err := c.GetCurrentSchema(context.Background(), "user_1")

	require.NoError(t, err)
	assert.Nil(t, schema)
}

func TestSchemaNegotiationRoundTrip(t *testing.T) {
	c, backend := newTestClient(t)
	ctx := context.Background()

	pending := &state.ToolSchema{
		Name: "run_band_calculation",
		InputSchema: state.InputSchema{
			Properties: map[string]state.PropertySchema{
				"structure_file": {Type: "string", AgentInput: "POSCAR"},
			},
		},
	}
	backend.SetPendingSchema("user_1", pending)

	schema, err := c.GetCurrentSchema(ctx, "user_1")
	require.NoError(t, err)
	require.NotNil(t, schema)
	assert.Equal(t, "run_band_calculation", schema.Name)

	require.NoError(t, c.ModifyParameters(ctx, "user_1", schema))

	// Submission resolves the negotiation on the backend.
	schema, err = c.GetCurrentSchema(ctx, "user_1")
	require.NoError(t, err)
	assert.Nil(t, schema)
	require.Len(t, backend.Submissions("user_1"), 1)
}

func TestUploadListAndDeleteFiles(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()

	dir := t.TempDir()
	path := filepath.Join(dir, "structure.cif")
	require.NoError(t, os.WriteFile(path, []byte("data_block"), 0o644))

	require.NoError(t, c.UploadFiles(ctx, "user_1", []string{path}))

	files, err := c.ListFiles(ctx, "user_1")
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "structure.cif", files[0].Name)

	require.NoError(t, c.DeleteFile(ctx, "user_1", "structure.cif"))
	files, err = c.ListFiles(ctx, "user_1")
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestValidateUploadRejectsUnsupportedExtension(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "payload.exe")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

	err := ValidateUpload(path)

	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeInvalidInput, apperrors.Code(err))
}

func TestValidateUploadRejectsDirectories(t *testing.T) {
	err := ValidateUpload(t.TempDir())

	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeInvalidInput, apperrors.Code(err))
}

func TestValidateUploadAcceptsKnownTypes(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"a.txt", "b.json", "c.xyz", "d.cif", "e.vasp"} {
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
		assert.NoError(t, ValidateUpload(path), name)
	}
}

func TestDownloadURLShape(t *testing.T) {
	c := New("http://example.com/", logr.Discard())

	url := c.DownloadURL("user_1", "a b.txt")

	assert.True(t, strings.HasPrefix(url, "http://example.com/api/download/user_1/"))
	assert.NotContains(t, url, " ")
}
