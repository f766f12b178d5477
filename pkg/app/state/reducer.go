package state

// Reduce applies a single transition to a state snapshot and returns the
// next state. It never mutates the input: histories and session lists are
// copied before modification, so a snapshot handed to the UI stays stable
// while later transitions apply.
func Reduce(st AppState, action Action) AppState {
	switch a := action.(type) {
	case SetLoading:
		st.Loading = a.Loading
		return st

	case SetError:
		st.Err = a.Message
		return st

	case LoginSuccess:
		st.Authenticated = true
		st.UserID = a.UserID
		st.Err = ""
		return st

	case Logout:
		// Config is static startup metadata, not session-scoped.
		return AppState{Config: st.Config}

	case SetConfig:
		st.Config = a.Config
		return st

	case SetCurrentSession:
		st.Current = a.Current
		return st

	case SetChatSessions:
		st.Sessions = a.Sessions
		return st

	case CreateChatSession:
		sessions := make([]ChatSession, 0, len(st.Sessions)+1)
		sessions = append(sessions, st.Sessions...)
		st.Sessions = append(sessions, a.Session)
		st.Current = Project(a.Session)
		return st

	case AppendMessage:
		if st.Current == nil {
			return st
		}
		if next, ok := withSession(st, st.Current.ChatID, func(s *ChatSession) {
			s.History = append(s.History, a.Message)
			s.LastActive = a.At
		}); ok {
			return next
		}
		// Active session missing from the list; keep the projection alive.
		cur := *st.Current
		cur.History = append(cloneHistory(cur.History), a.Message)
		st.Current = &cur
		return st

	case UpdateStreamingContent:
		next, _ := withSession(st, a.ChatID, func(s *ChatSession) {
			if n := len(s.History); n > 0 {
				last := &s.History[n-1]
				if last.Role == RoleAssistant && !last.Sealed() {
					last.Content = a.Content
					return
				}
			}
			s.History = append(s.History, ChatMessage{Role: RoleAssistant, Content: a.Content})
		})
		return next

	case SealLastMessage:
		sealed := false
		next, _ := withSession(st, a.ChatID, func(s *ChatSession) {
			n := len(s.History)
			if n == 0 {
				return
			}
			last := &s.History[n-1]
			if last.Role != RoleAssistant || last.Sealed() {
				return
			}
			last.Timestamp = a.At
			last.Usage = a.Usage
			last.Charge = a.Charge
			s.LastActive = a.At
			sealed = true
		})
		if !sealed {
			return st
		}
		return next

	case SetResponding:
		st.Responding = a.Responding
		return st

	case SetPendingSchema:
		st.PendingSchema = a.Schema
		return st

	case SetPendingToolResponse:
		st.PendingToolResponse = a.Content
		return st

	case SetFiles:
		st.Files = a.Files
		return st

	case ClearHistory:
		next, _ := withSession(st, a.ChatID, func(s *ChatSession) {
			s.History = []ChatMessage{}
			s.LastActive = a.At
		})
		return next

	case RenameSession:
		next, _ := withSession(st, a.ChatID, func(s *ChatSession) {
			s.Title = a.Title
		})
		return next

	case RemoveSession:
		sessions := make([]ChatSession, 0, len(st.Sessions))
		for _, s := range st.Sessions {
			if s.ChatID != a.ChatID {
				sessions = append(sessions, s)
			}
		}
		st.Sessions = sessions
		return st
	}

	return st
}

// withSession rewrites one session list entry through mutate and mirrors
// the result into the active projection when that session is displayed.
// The entry's history is cloned before mutate runs and MessageCount is
// recomputed afterwards, so the dual-write and count invariants hold for
// every transition routed through here.
func withSession(st AppState, chatID string, mutate func(s *ChatSession)) (AppState, bool) {
	idx := -1
	for i := range st.Sessions {
		if st.Sessions[i].ChatID == chatID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return st, false
	}

	sessions := make([]ChatSession, len(st.Sessions))
	copy(sessions, st.Sessions)

	s := sessions[idx]
	s.History = cloneHistory(s.History)
	mutate(&s)
	s.MessageCount = len(s.History)
	sessions[idx] = s
	st.Sessions = sessions

	if st.Current != nil && st.Current.ChatID == chatID {
		cur := *st.Current
		cur.History = s.History
		cur.Title = s.Title
		st.Current = &cur
	}
	return st, true
}

func cloneHistory(history []ChatMessage) []ChatMessage {
	out := make([]ChatMessage, len(history))
	copy(out, history)
	return out
}
