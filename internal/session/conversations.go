package session

import "time"

// conversationIndex keeps one summary per counterpart, most recently
// active first. Touch is the only mutation that reorders: it inserts at
// the front or moves the existing entry there. Entries are never removed
// within a session.
type conversationIndex struct {
	order []*Conversation
	byKey map[string]*Conversation
}

func newConversationIndex() *conversationIndex {
	return &conversationIndex{byKey: make(map[string]*Conversation)}
}

func (ci *conversationIndex) Touch(counterpart, displayName, preview string, at time.Time, unread bool) {
	conv, ok := ci.byKey[counterpart]
	if !ok {
		conv = &Conversation{Counterpart: counterpart}
		ci.byKey[counterpart] = conv
		ci.order = append([]*Conversation{conv}, ci.order...)
	} else {
		ci.moveToFront(conv)
	}

	if displayName != "" {
		conv.DisplayName = displayName
	}
	conv.LastPreview = preview
	conv.LastActivityAt = at
	if unread {
		conv.Unread++
	}
}

func (ci *conversationIndex) MarkRead(counterpart string) {
	if conv, ok := ci.byKey[counterpart]; ok {
		conv.Unread = 0
	}
}

func (ci *conversationIndex) moveToFront(conv *Conversation) {
	for i, c := range ci.order {
		if c == conv {
			copy(ci.order[1:i+1], ci.order[:i])
			ci.order[0] = conv
			return
		}
	}
}

// List returns a snapshot; callers may hold it across further activity.
func (ci *conversationIndex) List() []Conversation {
	out := make([]Conversation, len(ci.order))
	for i, c := range ci.order {
		out[i] = *c
	}
	return out
}
