package model

// Correspondent is a display entry in a conversation's sender or
// recipient list.
type Correspondent struct {
	Name    string
	Address string
}

// LabelContext is the per-label aggregate a conversation carries for
// each label it is associated with. Time is the timestamp of the most
// recent message under that label and drives mailbox ordering.
type LabelContext struct {
	ID             string
	NumUnread      int
	NumMessages    int
	Time           int64
	Size           int64
	NumAttachments int
}

// Conversation is a summary of a message thread, keyed by (ID, UserID).
type Conversation struct {
	ID             string
	UserID         string
	Subject        string
	NumUnread      int
	NumMessages    int
	Size           int64
	NumAttachments int
	Order          int64
	Time           int64
	Senders        []Correspondent
	Recipients     []Correspondent
	Labels         []LabelContext
}

// ContextTime returns the per-label time for labelID, and whether the
// conversation carries a context for that label at all.
func (c *Conversation) ContextTime(labelID string) (int64, bool) {
	for i := range c.Labels {
		if c.Labels[i].ID == labelID {
			return c.Labels[i].Time, true
		}
	}
	return 0, false
}

// ApplyLabelContext adds lc to the conversation's label contexts,
// replacing any existing entry with the same label id. Entries are
// unique per label id.
func (c *Conversation) ApplyLabelContext(lc LabelContext) {
	for i := range c.Labels {
		if c.Labels[i].ID == lc.ID {
			c.Labels[i] = lc
			return
		}
	}
	c.Labels = append(c.Labels, lc)
}

// RemoveLabelContext drops the context entry for labelID, if present.
func (c *Conversation) RemoveLabelContext(labelID string) {
	for i := range c.Labels {
		if c.Labels[i].ID == labelID {
			c.Labels = append(c.Labels[:i], c.Labels[i+1:]...)
			return
		}
	}
}

// HasLabel reports whether the conversation carries a context entry for
// labelID.
func (c *Conversation) HasLabel(labelID string) bool {
	_, ok := c.ContextTime(labelID)
	return ok
}
