package model

// System label ids. Locations are mutually exclusive: a message sits in
// exactly one of them at a time. The grouped labels (all-mail, all-sent,
// all-draft, starred) coexist with whatever location the message is in.
const (
	LabelInbox    = "0"
	LabelAllDraft = "1"
	LabelAllSent  = "2"
	LabelTrash    = "3"
	LabelSpam     = "4"
	LabelAllMail  = "5"
	LabelArchive  = "6"
	LabelSent     = "7"
	LabelDraft    = "8"
	LabelStarred  = "10"
)

// System label ids are short numeric strings; custom labels and folders
// get long random ids from the server. The length check is load-bearing:
// it is how we tell a bare system location apart from a custom label
// without a store lookup.
const systemLabelMaxLen = 2

// IsSystemLabel reports whether id names a server-defined system label.
func IsSystemLabel(id string) bool {
	return len(id) <= systemLabelMaxLen
}

// IsGroupedLabel reports whether id is one of the non-exclusive system
// labels that must never be stripped when a conversation moves between
// folders.
func IsGroupedLabel(id string) bool {
	switch id {
	case LabelAllMail, LabelAllSent, LabelAllDraft, LabelStarred:
		return true
	}
	return false
}

// IsLocation reports whether id is an exclusive system location.
func IsLocation(id string) bool {
	return IsSystemLabel(id) && !IsGroupedLabel(id)
}

// Label is a row in the local label store.
type Label struct {
	ID        string
	UserID    string
	Name      string
	Exclusive bool // folders are exclusive, labels are not
	Order     int
}
