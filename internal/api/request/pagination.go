package request

import (
	"net/http"
	"strconv"
)

// Pagination holds parsed cursor pagination parameters.
type Pagination struct {
	Limit  int
	Cursor string
}

const (
	DefaultLimit = 50
	MaxLimit     = 200
)

// ParsePagination extracts limit and cursor from query parameters.
func ParsePagination(r *http.Request) Pagination {
	p := Pagination{
		Limit:  DefaultLimit,
		Cursor: r.URL.Query().Get("cursor"),
	}

	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if limit, err := strconv.Atoi(limitStr); err == nil && limit > 0 {
			p.Limit = limit
		}
	}

	if p.Limit > MaxLimit {
		p.Limit = MaxLimit
	}

	return p
}

// Page holds page-numbered pagination parameters for folder listings.
// Page numbers start at 1.
type Page struct {
	Page     int
	PageSize int
}

// ParsePage extracts page and page_size from query parameters. Values that
// are present but malformed are passed through as 0 so the service rejects
// them instead of silently serving a different page.
func ParsePage(r *http.Request) Page {
	p := Page{Page: 1, PageSize: DefaultLimit}
	q := r.URL.Query()
	if s := q.Get("page"); s != "" {
		p.Page, _ = strconv.Atoi(s)
	}
	if s := q.Get("page_size"); s != "" {
		p.PageSize, _ = strconv.Atoi(s)
	}
	return p
}
