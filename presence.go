package bizchat

// presenceTracker holds the ephemeral typing and online-user working sets.
// It has no locking of its own: the owning session serializes access.
type presenceTracker struct {
	typing []TypingIndicator
	online []OnlineUser
}

// setTyping records a typing indicator, keeping at most one entry per
// (userId, roomId): a fresh event supersedes the previous one.
func (p *presenceTracker) setTyping(ti TypingIndicator) {
	next := make([]TypingIndicator, 0, len(p.typing)+1)
	for _, t := range p.typing {
		if t.UserID == ti.UserID && t.RoomID == ti.RoomID {
			continue
		}
		next = append(next, t)
	}
	p.typing = append(next, ti)
}

// clearTyping removes a typing indicator by its (userId, roomId) key.
func (p *presenceTracker) clearTyping(userID, roomID string) {
	next := make([]TypingIndicator, 0, len(p.typing))
	for _, t := range p.typing {
		if t.UserID == userID && t.RoomID == roomID {
			continue
		}
		next = append(next, t)
	}
	p.typing = next
}

// typingIn returns the indicators for one room, excluding the viewer's own
// typing events.
func (p *presenceTracker) typingIn(roomID, selfID string) []TypingIndicator {
	out := make([]TypingIndicator, 0, len(p.typing))
	for _, t := range p.typing {
		if t.RoomID != roomID || t.UserID == selfID {
			continue
		}
		out = append(out, t)
	}
	return out
}

// setOnline replaces the online-user set wholesale. The server is the
// authority on who is in the observed room; snapshots are never merged.
func (p *presenceTracker) setOnline(users []OnlineUser) {
	p.online = append([]OnlineUser{}, users...)
}

func (p *presenceTracker) reset() {
	p.typing = nil
	p.online = nil
}
