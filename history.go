package bizchat

import "encoding/json"

// History pagination: the server returns pages newest-first, the session keeps
// the active room's list strictly oldest-first. Page 1 replaces the list (a
// room switch), later pages prepend (older history).

// normalizePage normalizes a newest-first page into ascending order, dropping
// entries with no identifier.
func normalizePage(raw []json.RawMessage) []Message {
	out := make([]Message, 0, len(raw))
	for i := len(raw) - 1; i >= 0; i-- {
		msg, err := NormalizeMessage(raw[i])
		if err != nil {
			continue
		}
		out = append(out, *msg)
	}
	return out
}

// mergePage merges an ascending page into the current list. The result is
// always a fresh slice; callers replace, never mutate in place.
func mergePage(current, page []Message, pageNum int) []Message {
	if pageNum <= 1 {
		return append([]Message{}, page...)
	}
	merged := make([]Message, 0, len(page)+len(current))
	merged = append(merged, page...)
	merged = append(merged, current...)
	return merged
}

// appendUnique appends msg unless a message with the same id is already
// present. An edited version replaces the original in place of appending.
func appendUnique(list []Message, msg Message) []Message {
	for i, existing := range list {
		if existing.ID == msg.ID {
			out := append([]Message{}, list...)
			out[i] = msg
			return out
		}
	}
	out := make([]Message, 0, len(list)+1)
	out = append(out, list...)
	return append(out, msg)
}
