package shared

const (
	// DefaultPageSize applies when a caller does not ask for a page size.
	DefaultPageSize = 20
	// MaxPageSize caps page_size on listing endpoints.
	MaxPageSize = 100
)

// Pagination contains metadata for paginated listings. Page is 1-indexed and
// Pages is never below 1, so an empty listing still reports one valid page.
type Pagination struct {
	Page     int `json:"page"`
	PageSize int `json:"page_size"`
	Total    int `json:"total"`
	Pages    int `json:"pages"`
}

// NewPagination computes pagination metadata, normalising page and page size.
func NewPagination(page, pageSize, total int) Pagination {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	if pageSize > MaxPageSize {
		pageSize = MaxPageSize
	}
	if page <= 0 {
		page = 1
	}
	if total < 0 {
		total = 0
	}
	pages := (total + pageSize - 1) / pageSize
	if pages < 1 {
		pages = 1
	}
	return Pagination{Page: page, PageSize: pageSize, Total: total, Pages: pages}
}

// Offset is the number of rows to skip for the current page.
func (p Pagination) Offset() int {
	return (p.Page - 1) * p.PageSize
}

// OutOfRange reports whether the requested page lies past the last page.
func (p Pagination) OutOfRange() bool {
	return p.Page > p.Pages
}
