package model

// GetListParams is the full query shape for the remote conversation
// list endpoint. Begin/End plus BeginID/EndID double as the bookmark
// cursor for progressive loading.
type GetListParams struct {
	UserID   string
	Page     int
	PageSize int
	LabelID  string
	Sort     string
	Desc     bool
	Begin    int64
	End      int64
	BeginID  string
	EndID    string
	Keyword  string
}

// NextFrom derives the continuation parameters following last, the
// final item of a successful non-empty page. Remote results are
// time-ordered, so for a descending listing the End bookmark advances
// to the last item seen; an ascending listing advances Begin instead.
func (p GetListParams) NextFrom(last Conversation) GetListParams {
	next := p
	if p.Desc {
		next.End = last.Time
		next.EndID = last.ID
	} else {
		next.Begin = last.Time
		next.BeginID = last.ID
	}
	next.Page = 0
	return next
}
