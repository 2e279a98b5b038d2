package core

// PageInfo describes one page of a page/limit paginated result.
type PageInfo struct {
	Page        int  `json:"page"`
	Limit       int  `json:"limit"`
	Skip        int  `json:"skip"`
	TotalDocs   int  `json:"totalDocs"`
	TotalPages  int  `json:"totalPages"`
	HasNextPage bool `json:"hasNextPage"`
	HasPrevPage bool `json:"hasPrevPage"`
	NextPage    *int `json:"nextPage"`
	PrevPage    *int `json:"prevPage"`
}

// Paginate computes the window for page (1-based) of size limit over total
// records. A limit below 1 yields no pages instead of dividing by zero.
func Paginate(page, limit, total int) PageInfo {
	info := PageInfo{
		Page:      page,
		Limit:     limit,
		TotalDocs: total,
	}
	if limit < 1 {
		return info
	}

	info.Skip = max(page-1, 0) * limit
	info.TotalPages = (total + limit - 1) / limit
	if total <= 0 {
		info.TotalPages = 0
	}
	info.HasNextPage = page < info.TotalPages
	info.HasPrevPage = page > 1

	if info.HasNextPage {
		next := page + 1
		info.NextPage = &next
	}
	if info.HasPrevPage {
		prev := page - 1
		info.PrevPage = &prev
	}
	return info
}
