package stats

import (
	"slices"
	"strings"
)

// Request is a canonical, sorted set of column names.
type Request []string

// NewRequest canonicalizes cols: sorted, without duplicates or empty names.
func NewRequest(cols ...string) Request {
	out := make([]string, 0, len(cols))

	for _, c := range cols {
		if c != "" {
			out = append(out, c)
		}
	}

	slices.Sort(out)

	return Request(slices.Compact(out))
}

// Name joins the columns with commas, e.g. "a,b".
func (r Request) Name() string {
	return strings.Join(r, ",")
}

// Columns returns the column names.
func (r Request) Columns() []string {
	return r
}

// RequestSet is a deduplicated set of requests. Requests differing only by column
// order are the same request.
type RequestSet struct {
	byName map[string]Request
}

// AddColumn requests a single column. It reports whether the set changed.
func (s *RequestSet) AddColumn(col string) bool {
	return s.AddRequest(col)
}

// AddColumnPair requests a pair of columns. It reports whether the set changed.
func (s *RequestSet) AddColumnPair(a, b string) bool {
	return s.AddRequest(a, b)
}

// AddRequest requests a group of columns. It reports whether the set changed.
func (s *RequestSet) AddRequest(cols ...string) bool {
	req := NewRequest(cols...)
	if len(req) == 0 {
		return false
	}

	if s.byName == nil {
		s.byName = make(map[string]Request)
	}

	key := req.Name()
	if _, ok := s.byName[key]; ok {
		return false
	}

	s.byName[key] = req

	return true
}

// ResetRequests removes every request.
func (s *RequestSet) ResetRequests() {
	clear(s.byName)
}

// Len returns the number of requests.
func (s *RequestSet) Len() int {
	return len(s.byName)
}

// Requests returns the requests in canonical order.
func (s *RequestSet) Requests() []Request {
	out := make([]Request, 0, len(s.byName))
	for _, r := range s.byName {
		out = append(out, r)
	}

	slices.SortFunc(out, func(a, b Request) int {
		return slices.Compare(a, b)
	})

	return out
}
