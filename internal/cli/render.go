package cli

import (
	"fmt"
	"io"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/pilot-dev/pilot/pkg/app/state"
)

// renderSessions prints the session list, marking the active one.
func renderSessions(out io.Writer, snap state.AppState) {
	t := table.NewWriter()
	t.SetOutputMirror(out)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"", "Chat ID", "Title", "Messages", "Last Active"})
	for _, session := range snap.Sessions {
		active := ""
		if snap.Current != nil && snap.Current.ChatID == session.ChatID {
			active = "*"
		}
		t.AppendRow(table.Row{active, session.ChatID, session.Title, session.MessageCount, session.LastActive})
	}
	t.Render()
}

// renderFiles prints the workspace file listing.
func renderFiles(out io.Writer, files []state.FileInfo) {
	if len(files) == 0 {
		fmt.Fprintln(out, "workspace is empty")
		return
	}
	t := table.NewWriter()
	t.SetOutputMirror(out)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Name", "Size", "Path"})
	for _, f := range files {
		t.AppendRow(table.Row{f.Name, f.Size, f.Path})
	}
	t.Render()
}

// renderSchema prints the pending negotiation with the agent proposal,
// the declared default, and the value that will be submitted.
func renderSchema(out io.Writer, schema *state.ToolSchema) {
	fmt.Fprintf(out, "%s: %s\n", schema.Name, schema.Description)
	t := table.NewWriter()
	t.SetOutputMirror(out)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Parameter", "Type", "Agent Proposal", "Default", "Submitted Value"})
	for name, prop := range schema.InputSchema.Properties {
		t.AppendRow(table.Row{name, prop.Type, format(prop.AgentInput), format(prop.Default), format(prop.UserInput)})
	}
	t.Render()
}

func format(v any) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf("%v", v)
}
