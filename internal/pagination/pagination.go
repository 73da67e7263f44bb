// Package pagination provides the shared page-slicing helper used by
// playlist song listings and the room directory.
package pagination

// Page holds one slice of a larger sequence together with navigation
// metadata. Prev is nil on the first page and Next is nil on the last.
type Page[T any] struct {
	Items      []T  `json:"items"`
	Prev       *int `json:"prev"`
	Next       *int `json:"next"`
	TotalPages int  `json:"totalPages"`
}

// Paginate slices items for the requested 1-based page number. Page zero is
// normalized to page one rather than rejected. Requests past the final page
// yield an empty item slice with accurate metadata.
func Paginate[T any](items []T, pageSize, pageNumber int) Page[T] {
	if pageSize <= 0 {
		pageSize = 1
	}
	if pageNumber <= 0 {
		pageNumber = 1
	}

	totalPages := (len(items) + pageSize - 1) / pageSize

	start := (pageNumber - 1) * pageSize
	end := pageNumber * pageSize
	if start > len(items) {
		start = len(items)
	}
	if end > len(items) {
		end = len(items)
	}

	page := Page[T]{
		Items:      append([]T(nil), items[start:end]...),
		TotalPages: totalPages,
	}
	if pageNumber > 1 {
		prev := pageNumber - 1
		page.Prev = &prev
	}
	if totalPages > pageNumber {
		next := pageNumber + 1
		page.Next = &next
	}
	return page
}
