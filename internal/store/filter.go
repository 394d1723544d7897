package store

import (
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/vonshlovens/prompit/internal/model"
)

// Filter narrows a record listing. Zero value matches everything.
type Filter struct {
	// Text does a case-insensitive substring match over title, body,
	// and tags.
	Text string
	// Pattern is a glob matched (case-insensitively) against the
	// record's "category/title" and against each tag. Supports ** and
	// the usual glob syntax.
	Pattern string
	// Category restricts to one category label.
	Category string
	// FavoritesOnly keeps only favorites.
	FavoritesOnly bool
	// Folder restricts to records in the given folder local id.
	Folder string
}

// Match reports whether the record passes the filter.
func (f Filter) Match(r *model.Record) bool {
	if f.FavoritesOnly && !r.Favorite {
		return false
	}
	if f.Category != "" && !strings.EqualFold(r.Category, f.Category) {
		return false
	}
	if f.Folder != "" && (r.FolderRef == nil || *r.FolderRef != f.Folder) {
		return false
	}
	if f.Text != "" {
		haystack := strings.ToLower(r.Title + " " + r.Body + " " + strings.Join(r.Tags, " "))
		if !strings.Contains(haystack, strings.ToLower(f.Text)) {
			return false
		}
	}
	if f.Pattern != "" && !matchGlob(f.Pattern, r) {
		return false
	}
	return true
}

func matchGlob(pattern string, r *model.Record) bool {
	pattern = strings.ToLower(pattern)

	key := strings.ToLower(r.Category + "/" + r.Title)
	if ok, err := doublestar.Match(pattern, key); err == nil && ok {
		return true
	}
	for _, tag := range r.Tags {
		if ok, err := doublestar.Match(pattern, strings.ToLower(tag)); err == nil && ok {
			return true
		}
	}
	return false
}

// ListRecords returns a snapshot of the records passing the filter,
// newest first.
func (s *Store) ListRecords(f Filter) []*model.Record {
	all := s.Records()
	out := make([]*model.Record, 0, len(all))
	for _, r := range all {
		if f.Match(r) {
			out = append(out, r)
		}
	}
	return out
}
