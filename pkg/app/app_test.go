package app

import (
	"context"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pilot-dev/pilot/internal/mockagent"
	"github.com/pilot-dev/pilot/pkg/app/state"
)

const testToken = "abcdef0123456789abcdef0123456789"

func newTestApp(t *testing.T) (*App, *mockagent.Server) {
	t.Helper()
	backend := mockagent.NewServer()
	server := httptest.NewServer(backend.Handler())
	t.Cleanup(server.Close)

	a, err := New(Config{
		ServerURL:    server.URL,
		CachePath:    filepath.Join(t.TempDir(), "cache.db"),
		PollInterval: 10 * time.Millisecond,
	}, logr.Discard())
	require.NoError(t, err)
	t.Cleanup(func() {
		a.Logout()
		a.Close()
	})
	return a, backend
}

func TestValidateSessionToken(t *testing.T) {
	assert.NoError(t, ValidateSessionToken(testToken))
	assert.NoError(t, ValidateSessionToken(GenerateSessionToken()))

	assert.Error(t, ValidateSessionToken(""))
	assert.Error(t, ValidateSessionToken("short"))
	assert.Error(t, ValidateSessionToken("abcdef0123456789abcdef012345678!"))
	assert.Error(t, ValidateSessionToken(testToken+"0"))
}

func TestLoginCreatesFreshSession(t *testing.T) {
	a, _ := newTestApp(t)
	ctx := context.Background()

	a.Init(ctx)
	require.NoError(t, a.Login(ctx, testToken))

	snap := a.Store.State()
	assert.True(t, snap.Authenticated)
	assert.Equal(t, testToken, snap.UserID)
	require.Len(t, snap.Sessions, 1)
	require.NotNil(t, snap.Current)
	assert.Empty(t, snap.Current.History)
	require.NotNil(t, snap.Config)
	assert.Equal(t, "mock-agent", snap.Config.AgentInfo.Name)
	assert.True(t, a.Stream.Connected())
}

func TestLoginRejectsMalformedToken(t *testing.T) {
	a, _ := newTestApp(t)

	require.Error(t, a.Login(context.Background(), "not-a-token"))
	assert.False(t, a.Store.State().Authenticated)
}

func TestSendMessageCompletesTurn(t *testing.T) {
	a, _ := newTestApp(t)
	ctx := context.Background()
	require.NoError(t, a.Login(ctx, testToken))

	require.NoError(t, a.SendMessage("hello world"))

	// The optimistic pair lands synchronously.
	snap := a.Store.State()
	require.Len(t, snap.Current.History, 2)
	assert.Equal(t, state.RoleUser, snap.Current.History[0].Role)
	assert.Equal(t, "hello world", snap.Current.History[0].Content)
	assert.True(t, snap.Current.History[0].Sealed())
	assert.Equal(t, state.RoleAssistant, snap.Current.History[1].Role)
	assert.False(t, snap.Current.History[1].Sealed())

	require.Eventually(t, func() bool {
		return !a.Store.State().Responding
	}, 2*time.Second, 10*time.Millisecond)

	snap = a.Store.State()
	require.Len(t, snap.Current.History, 2)
	last := snap.Current.History[1]
	assert.Equal(t, "You said: hello world", last.Content)
	assert.True(t, last.Sealed())
	require.NotNil(t, last.Usage)
	assert.Equal(t, 2, last.Usage.PromptTokens)

	// The dual-write held through the whole turn.
	assert.Equal(t, snap.Current.History, snap.Sessions[0].History)
	assert.Equal(t, 2, snap.Sessions[0].MessageCount)
}

func TestSendMessageRejectsConcurrentTurn(t *testing.T) {
	a, _ := newTestApp(t)
	ctx := context.Background()
	require.NoError(t, a.Login(ctx, testToken))

	require.NoError(t, a.SendMessage("first"))
	err := a.SendMessage("second")
	require.Error(t, err)

	require.Eventually(t, func() bool {
		return !a.Store.State().Responding
	}, 2*time.Second, 10*time.Millisecond)

	// Only the first turn's pair is in the history.
	assert.Len(t, a.Store.State().Current.History, 2)
}

func TestNegotiationSuspendAndResume(t *testing.T) {
	a, backend := newTestApp(t)
	ctx := context.Background()
	require.NoError(t, a.Login(ctx, testToken))

	require.NoError(t, a.SendMessage("please use tool for this"))

	require.Eventually(t, func() bool {
		return !a.Store.State().PendingSchema.Empty()
	}, 2*time.Second, 10*time.Millisecond)

	snap := a.Store.State()
	assert.False(t, snap.Responding)
	assert.Equal(t, "run_band_calculation", snap.PendingSchema.Name)
	assert.NotEmpty(t, snap.PendingToolResponse)

	// The schema arrives prefilled from the agent proposal.
	prop := snap.PendingSchema.InputSchema.Properties["structure_file"]
	assert.Equal(t, "POSCAR", prop.UserInput)

	require.NoError(t, a.SubmitParameters(ctx, map[string]any{"structure_file": "mine.cif"}))

	snap = a.Store.State()
	assert.Nil(t, snap.PendingSchema)
	assert.Empty(t, snap.PendingToolResponse)

	submissions := backend.Submissions(testToken)
	require.Len(t, submissions, 1)
	got := submissions[0].InputSchema.Properties["structure_file"]
	assert.Equal(t, "mine.cif", got.UserInput)
	assert.Equal(t, "POSCAR", got.AgentInput)

	// The conversation is resumable.
	require.NoError(t, a.SendMessage("thanks"))
	require.Eventually(t, func() bool {
		return !a.Store.State().Responding
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSubmitParametersRejectsUnknownKey(t *testing.T) {
	a, backend := newTestApp(t)
	ctx := context.Background()
	require.NoError(t, a.Login(ctx, testToken))

	backend.SetPendingSchema(testToken, &state.ToolSchema{
		Name: "run_band_calculation",
		InputSchema: state.InputSchema{
			Properties: map[string]state.PropertySchema{"structure_file": {Type: "string"}},
		},
	})
	require.Eventually(t, func() bool {
		return !a.Store.State().PendingSchema.Empty()
	}, 2*time.Second, 10*time.Millisecond)

	require.Error(t, a.SubmitParameters(ctx, map[string]any{"bogus": 1}))

	// The negotiation stays pending for retry.
	assert.False(t, a.Store.State().PendingSchema.Empty())
	assert.Empty(t, backend.Submissions(testToken))
}

func TestSessionLifecycle(t *testing.T) {
	a, _ := newTestApp(t)
	ctx := context.Background()
	require.NoError(t, a.Login(ctx, testToken))
	first := a.Store.State().Current.ChatID

	created, err := a.CreateSession(ctx)
	require.NoError(t, err)
	assert.Equal(t, created.ChatID, a.Store.State().Current.ChatID)

	require.NoError(t, a.SwitchSession(first))
	assert.Equal(t, first, a.Store.State().Current.ChatID)

	require.Error(t, a.SwitchSession("chat_missing"))
	assert.Equal(t, first, a.Store.State().Current.ChatID)

	require.NoError(t, a.RenameSession(ctx, first, "band structures"))
	assert.Equal(t, "band structures", a.Store.State().Current.Title)

	require.NoError(t, a.DeleteSession(ctx, first))
	snap := a.Store.State()
	require.Len(t, snap.Sessions, 1)
	assert.Equal(t, created.ChatID, snap.Current.ChatID)
}

func TestClearHistoryTruncatesActiveSession(t *testing.T) {
	a, _ := newTestApp(t)
	ctx := context.Background()
	require.NoError(t, a.Login(ctx, testToken))

	require.NoError(t, a.SendMessage("hello"))
	require.Eventually(t, func() bool {
		return !a.Store.State().Responding
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, a.ClearHistory(ctx))

	snap := a.Store.State()
	assert.Empty(t, snap.Current.History)
	assert.Equal(t, 0, snap.Sessions[0].MessageCount)
}

func TestSessionsSurviveRelogin(t *testing.T) {
	a, _ := newTestApp(t)
	ctx := context.Background()
	require.NoError(t, a.Login(ctx, testToken))

	require.NoError(t, a.SendMessage("remember me"))
	require.Eventually(t, func() bool {
		return !a.Store.State().Responding
	}, 2*time.Second, 10*time.Millisecond)
	chatID := a.Store.State().Current.ChatID

	a.Logout()
	snap := a.Store.State()
	assert.False(t, snap.Authenticated)
	assert.Nil(t, snap.Current)
	require.NotNil(t, snap.Config)

	require.NoError(t, a.Login(ctx, testToken))
	snap = a.Store.State()
	require.NotNil(t, snap.Current)
	assert.Equal(t, chatID, snap.Current.ChatID)
	require.Len(t, snap.Current.History, 2)
	assert.Equal(t, "remember me", snap.Current.History[0].Content)
}

func TestFilePanelRoundTrip(t *testing.T) {
	a, _ := newTestApp(t)
	ctx := context.Background()
	require.NoError(t, a.Login(ctx, testToken))

	dir := t.TempDir()
	path := filepath.Join(dir, "input.xyz")
	require.NoError(t, os.WriteFile(path, []byte("3\natoms\n"), 0o644))

	require.NoError(t, a.UploadFiles(ctx, []string{path}))
	snap := a.Store.State()
	require.Len(t, snap.Files, 1)
	assert.Equal(t, "input.xyz", snap.Files[0].Name)

	require.NoError(t, a.DeleteFile(ctx, "input.xyz"))
	assert.Empty(t, a.Store.State().Files)
}
