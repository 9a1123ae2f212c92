package index

// Session is a catalog row as stored in the search index. Timestamps are
// unix seconds so the ORDER BY clauses stay cheap.
type Session struct {
	ID        string
	CreatedTS int64
	UpdatedTS int64
	TurnCount int
	Title     string
	Preview   string
}
