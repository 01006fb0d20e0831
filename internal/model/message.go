package model

// Message is a single message owned by exactly one conversation.
type Message struct {
	ID             string
	ConversationID string
	UserID         string
	Subject        string
	Read           bool
	Starred        bool
	LabelIDs       []string
	Time           int64
	Size           int64
}

// HasLabel reports whether the message carries labelID.
func (m *Message) HasLabel(labelID string) bool {
	for _, id := range m.LabelIDs {
		if id == labelID {
			return true
		}
	}
	return false
}

// Location returns the message's current exclusive location label.
// Exactly one location is authoritative; grouped labels and custom
// labels are skipped.
func (m *Message) Location() string {
	for _, id := range m.LabelIDs {
		if IsLocation(id) {
			return id
		}
	}
	return ""
}
