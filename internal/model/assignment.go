package model

// AssignResult reports the outcome of assigning a sent mail to its
// participants' folders. Unresolved lists recipient addresses with no local
// mailbox; they have an audit row only.
type AssignResult struct {
	Created    int      `json:"created"`
	Skipped    int      `json:"skipped"`
	Unresolved []string `json:"unresolved"`
}

// BackfillChunkResult reports one bounded pass of re-assignment over an
// organization's sent mail. NextCursor is the last mail id processed.
type BackfillChunkResult struct {
	Processed  int    `json:"processed"`
	Created    int    `json:"created"`
	Skipped    int    `json:"skipped"`
	Unresolved int    `json:"unresolved"`
	NextCursor string `json:"next_cursor"`
	Done       bool   `json:"done"`
}

// Count records one placement attempt: a new row or one that already existed.
func (r *AssignResult) Count(created bool) {
	if created {
		r.Created++
	} else {
		r.Skipped++
	}
}

// BackfillParams is the input of the organization backfill workflow. Cursor
// is empty on the first run and carries over on continue-as-new.
type BackfillParams struct {
	OrgID     string `json:"org_id"`
	Cursor    string `json:"cursor"`
	ChunkSize int    `json:"chunk_size"`
}
