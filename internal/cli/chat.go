package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/abiosoft/ishell/v2"
	"github.com/briandowns/spinner"
	"github.com/fatih/color"
	"github.com/muesli/reflow/wordwrap"
	"github.com/spf13/cobra"

	"github.com/pilot-dev/pilot/pkg/app"
	"github.com/pilot-dev/pilot/pkg/app/negotiate"
	"github.com/pilot-dev/pilot/pkg/app/state"
)

const replyWidth = 100

var (
	agentStyle  = color.New(color.FgCyan)
	noticeStyle = color.New(color.FgYellow)
	errorStyle  = color.New(color.FgRed)
)

func newChatCmd(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "chat [token]",
		Short: "Start an interactive chat session",
		Long: `Start an interactive chat session against the agent backend.

The token is the opaque 32-character user session token. When omitted a
fresh token is generated and printed so the session can be resumed later.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(cmd.Context(), opts, args)
		},
	}
}

func runChat(ctx context.Context, opts *Options, args []string) error {
	log, err := opts.Logger()
	if err != nil {
		return err
	}

	token := ""
	if len(args) == 1 {
		token = args[0]
		if err := app.ValidateSessionToken(token); err != nil {
			return err
		}
	} else {
		token = app.GenerateSessionToken()
		fmt.Printf("Session token: %s (pass it to `pilot chat` to resume)\n", token)
	}

	if err := os.MkdirAll(filepath.Dir(opts.CachePath), 0o755); err != nil {
		return err
	}

	a, err := app.New(app.Config{
		ServerURL:    opts.ServerURL,
		CachePath:    opts.CachePath,
		PollInterval: opts.PollInterval,
	}, log)
	if err != nil {
		return err
	}
	defer a.Close()

	a.Init(ctx)
	if err := a.Login(ctx, token); err != nil {
		return err
	}
	defer a.Logout()

	if cfg := a.Store.State().Config; cfg != nil {
		fmt.Printf("Connected to %s: %s\n", cfg.AgentInfo.Name, cfg.AgentInfo.Description)
	}

	shell := newChatShell(ctx, a)
	shell.Run()
	return nil
}

// newChatShell wires the interactive loop. Plain input is sent to the
// agent; everything else is a session or workspace command.
func newChatShell(ctx context.Context, a *app.App) *ishell.Shell {
	shell := ishell.New()
	shell.SetPrompt(prompt(a))

	shell.NotFound(func(c *ishell.Context) {
		text := strings.TrimSpace(strings.Join(c.RawArgs, " "))
		if text == "" {
			return
		}
		if err := a.SendMessage(text); err != nil {
			errorStyle.Println(err)
			return
		}
		awaitTurn(c, a)
	})

	shell.AddCmd(&ishell.Cmd{
		Name: "sessions",
		Help: "list chat sessions",
		Func: func(c *ishell.Context) {
			renderSessions(os.Stdout, a.Store.State())
		},
	})
	shell.AddCmd(&ishell.Cmd{
		Name: "new",
		Help: "create and switch to a new chat session",
		Func: func(c *ishell.Context) {
			session, err := a.CreateSession(ctx)
			if err != nil {
				errorStyle.Println(err)
				return
			}
			c.Printf("Created %s\n", session.ChatID)
			shell.SetPrompt(prompt(a))
		},
	})
	shell.AddCmd(&ishell.Cmd{
		Name: "switch",
		Help: "switch <chat-id>: activate another chat session",
		Func: func(c *ishell.Context) {
			if len(c.Args) != 1 {
				errorStyle.Println("usage: switch <chat-id>")
				return
			}
			if err := a.SwitchSession(c.Args[0]); err != nil {
				errorStyle.Println(err)
				return
			}
			shell.SetPrompt(prompt(a))
			replayHistory(c, a)
		},
	})
	shell.AddCmd(&ishell.Cmd{
		Name: "delete",
		Help: "delete <chat-id>: delete a chat session",
		Func: func(c *ishell.Context) {
			if len(c.Args) != 1 {
				errorStyle.Println("usage: delete <chat-id>")
				return
			}
			if err := a.DeleteSession(ctx, c.Args[0]); err != nil {
				errorStyle.Println(err)
				return
			}
			shell.SetPrompt(prompt(a))
		},
	})
	shell.AddCmd(&ishell.Cmd{
		Name: "rename",
		Help: "rename <chat-id> <title>: retitle a chat session",
		Func: func(c *ishell.Context) {
			if len(c.Args) < 2 {
				errorStyle.Println("usage: rename <chat-id> <title>")
				return
			}
			if err := a.RenameSession(ctx, c.Args[0], strings.Join(c.Args[1:], " ")); err != nil {
				errorStyle.Println(err)
				return
			}
			shell.SetPrompt(prompt(a))
		},
	})
	shell.AddCmd(&ishell.Cmd{
		Name: "clear",
		Help: "clear the active session's history",
		Func: func(c *ishell.Context) {
			if err := a.ClearHistory(ctx); err != nil {
				errorStyle.Println(err)
			}
		},
	})
	shell.AddCmd(&ishell.Cmd{
		Name: "params",
		Help: "show the pending tool parameter negotiation",
		Func: func(c *ishell.Context) {
			snap := a.Store.State()
			if snap.PendingSchema.Empty() {
				c.Println("no negotiation pending")
				return
			}
			renderSchema(os.Stdout, snap.PendingSchema)
		},
	})
	shell.AddCmd(&ishell.Cmd{
		Name: "submit",
		Help: `submit [{"param": value, ...}]: confirm tool parameters`,
		Func: func(c *ishell.Context) {
			submitParams(ctx, c, a)
		},
	})
	shell.AddCmd(&ishell.Cmd{
		Name: "files",
		Help: "list workspace files",
		Func: func(c *ishell.Context) {
			a.LoadFiles(ctx)
			renderFiles(os.Stdout, a.Store.State().Files)
		},
	})
	shell.AddCmd(&ishell.Cmd{
		Name: "upload",
		Help: "upload <path>...: upload files to the workspace",
		Func: func(c *ishell.Context) {
			if len(c.Args) == 0 {
				errorStyle.Println("usage: upload <path>...")
				return
			}
			if err := a.UploadFiles(ctx, c.Args); err != nil {
				errorStyle.Println(err)
			}
		},
	})
	shell.AddCmd(&ishell.Cmd{
		Name: "rm",
		Help: "rm <name>: delete a workspace file",
		Func: func(c *ishell.Context) {
			if len(c.Args) != 1 {
				errorStyle.Println("usage: rm <name>")
				return
			}
			if err := a.DeleteFile(ctx, c.Args[0]); err != nil {
				errorStyle.Println(err)
			}
		},
	})
	shell.AddCmd(&ishell.Cmd{
		Name: "logout",
		Help: "end the session and exit",
		Func: func(c *ishell.Context) {
			shell.Stop()
		},
	})

	return shell
}

// awaitTurn blocks until the in-flight turn finishes or suspends into a
// parameter negotiation, then renders the outcome.
func awaitTurn(c *ishell.Context, a *app.App) {
	spin := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	spin.Suffix = " thinking"
	spin.Start()

	deadline := time.Now().Add(2 * time.Minute)
	for time.Now().Before(deadline) {
		snap := a.Store.State()
		if !snap.Responding || !snap.PendingSchema.Empty() {
			break
		}
		time.Sleep(50 * time.Millisecond)
	}
	spin.Stop()

	snap := a.Store.State()
	if snap.Err != "" {
		errorStyle.Println(snap.Err)
		return
	}
	if !snap.PendingSchema.Empty() {
		if snap.PendingToolResponse != "" {
			agentStyle.Println(wordwrap.String(snap.PendingToolResponse, replyWidth))
		}
		noticeStyle.Printf("The agent wants to run %q. Review with `params`, confirm with `submit`.\n", snap.PendingSchema.Name)
		return
	}
	if snap.Current != nil {
		if n := len(snap.Current.History); n > 0 && snap.Current.History[n-1].Role == state.RoleAssistant {
			last := snap.Current.History[n-1]
			agentStyle.Println(wordwrap.String(last.Content, replyWidth))
			if last.Usage != nil {
				noticeStyle.Printf("tokens: %d prompt, %d completion\n",
					last.Usage.PromptTokens, last.Usage.CandidateTokens)
			}
		}
	}
}

// submitParams walks the pending schema, prompting per parameter with
// the prefilled value as the default, unless a JSON object of edits was
// given inline.
func submitParams(ctx context.Context, c *ishell.Context, a *app.App) {
	snap := a.Store.State()
	if snap.PendingSchema.Empty() {
		c.Println("no negotiation pending")
		return
	}

	edits := map[string]any{}
	if len(c.Args) > 0 {
		parsed, err := negotiate.ParseEdits(strings.Join(c.Args, " "))
		if err != nil {
			errorStyle.Println(err)
			return
		}
		edits = parsed
	} else {
		for key, prop := range snap.PendingSchema.InputSchema.Properties {
			c.Printf("%s (%v): ", key, prop.UserInput)
			line := strings.TrimSpace(c.ReadLine())
			if line != "" {
				edits[key] = line
			}
		}
	}

	if err := a.SubmitParameters(ctx, edits); err != nil {
		errorStyle.Println(err)
		return
	}
	noticeStyle.Println("parameters submitted, resuming")
}

// replayHistory prints the activated session's transcript.
func replayHistory(c *ishell.Context, a *app.App) {
	snap := a.Store.State()
	if snap.Current == nil {
		return
	}
	for _, msg := range snap.Current.History {
		if msg.Role == state.RoleUser {
			c.Printf("> %s\n", msg.Content)
			continue
		}
		agentStyle.Println(wordwrap.String(msg.Content, replyWidth))
	}
}

func prompt(a *app.App) string {
	if cur := a.Store.State().Current; cur != nil {
		return fmt.Sprintf("[%s] > ", cur.Title)
	}
	return "> "
}
