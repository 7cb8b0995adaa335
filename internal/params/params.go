package params

import (
	"fmt"
	"math"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	defaultLimit = 20
	maxLimit     = 100
)

// Pagination holds the requested page and, after ComputeMeta, the totals.
type Pagination struct {
	Limit      int  `json:"limit"`
	Offset     int  `json:"offset"`
	Page       int  `json:"page"`
	Total      int  `json:"total"`
	TotalPages int  `json:"total_pages"`
	HasNext    bool `json:"has_next"`
	HasPrev    bool `json:"has_prev"`
}

// ParsePagination parses ?limit=...&page=... leniently; bad values fall back
// to the defaults.
func ParsePagination(q url.Values) Pagination {
	p := Pagination{
		Limit: defaultLimit,
		Page:  1,
	}

	if limitStr := strings.TrimSpace(q.Get("limit")); limitStr != "" {
		if limit, err := strconv.Atoi(limitStr); err == nil {
			switch {
			case limit <= 0:
				p.Limit = defaultLimit
			case limit > maxLimit:
				p.Limit = maxLimit
			default:
				p.Limit = limit
			}
		}
	}

	if pageStr := strings.TrimSpace(q.Get("page")); pageStr != "" {
		if page, err := strconv.Atoi(pageStr); err == nil && page > 0 {
			p.Page = page
		}
	}

	p.Offset = (p.Page - 1) * p.Limit
	return p
}

func (p *Pagination) ComputeMeta(total int) {
	p.Total = total
	if p.Limit > 0 {
		p.TotalPages = int(math.Ceil(float64(total) / float64(p.Limit)))
	}
	p.HasPrev = p.Page > 1
	p.HasNext = (p.Page * p.Limit) < total
}

// TransactionFilter is the admin listing filter: ?status=PENDING&since=2026-01-02
type TransactionFilter struct {
	Status string
	Since  *time.Time
}

var statuses = map[string]bool{"PENDING": true, "COMPLETED": true, "FAILED": true}

// ParseTransactionFilter rejects unknown statuses and unparseable dates.
// since accepts RFC3339 or a plain date.
func ParseTransactionFilter(q url.Values) (TransactionFilter, error) {
	var f TransactionFilter

	if s := strings.ToUpper(strings.TrimSpace(q.Get("status"))); s != "" {
		if !statuses[s] {
			return f, fmt.Errorf("invalid status %q", q.Get("status"))
		}
		f.Status = s
	}

	if s := strings.TrimSpace(q.Get("since")); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			t, err = time.Parse(time.DateOnly, s)
			if err != nil {
				return f, fmt.Errorf("invalid since %q: use RFC3339 or YYYY-MM-DD", s)
			}
		}
		f.Since = &t
	}

	return f, nil
}
