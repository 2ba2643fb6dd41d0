package uow

import (
	"context"
	"sort"

	"github.com/wolfeidau/stockroom/internal/apperr"
)

// Query composes filtering, ordering and paging over a repository. Storage
// applies the tenant and soft-delete restriction; the rest runs in memory.
type Query[E any, P EntityPtr[E]] struct {
	repo           *Repository[E, P]
	preds          []func(P) bool
	less           func(a, b P) bool
	limit          int
	offset         int
	includeDeleted bool
}

// Where adds a predicate; a nil predicate is ignored.
func (q *Query[E, P]) Where(pred func(P) bool) *Query[E, P] {
	if pred != nil {
		q.preds = append(q.preds, pred)
	}
	return q
}

// OrderBy sorts results with less. Without it results follow creation order.
func (q *Query[E, P]) OrderBy(less func(a, b P) bool) *Query[E, P] {
	q.less = less
	return q
}

// Limit caps the number of results; zero means no limit.
func (q *Query[E, P]) Limit(n int) *Query[E, P] {
	q.limit = max(n, 0)
	return q
}

// Offset skips the first n results.
func (q *Query[E, P]) Offset(n int) *Query[E, P] {
	q.offset = max(n, 0)
	return q
}

// IncludeDeleted makes soft-deleted rows visible. The tenant restriction
// still applies.
func (q *Query[E, P]) IncludeDeleted() *Query[E, P] {
	q.includeDeleted = true
	return q
}

// List runs the query.
func (q *Query[E, P]) List(ctx context.Context) ([]P, error) {
	matched, err := q.matching(ctx)
	if err != nil {
		return nil, err
	}

	if q.offset >= len(matched) {
		return []P{}, nil
	}
	matched = matched[q.offset:]
	if q.limit > 0 && len(matched) > q.limit {
		matched = matched[:q.limit]
	}
	return matched, nil
}

// First returns the first result or an apperr NotFound error.
func (q *Query[E, P]) First(ctx context.Context) (P, error) {
	found, err := q.Limit(1).List(ctx)
	if err != nil {
		return nil, err
	}
	if len(found) == 0 {
		return nil, apperr.NotFound(q.repo.kind, "query")
	}
	return found[0], nil
}

// Count returns the number of matches, ignoring Limit and Offset.
func (q *Query[E, P]) Count(ctx context.Context) (int, error) {
	matched, err := q.matching(ctx)
	if err != nil {
		return 0, err
	}
	return len(matched), nil
}

func (q *Query[E, P]) matching(ctx context.Context) ([]P, error) {
	all, err := q.repo.list(ctx, q.includeDeleted)
	if err != nil {
		return nil, err
	}

	matched := all[:0]
	for _, e := range all {
		if q.match(e) {
			matched = append(matched, e)
		}
	}

	if q.less != nil {
		sort.SliceStable(matched, func(i, j int) bool { return q.less(matched[i], matched[j]) })
	}
	return matched, nil
}

func (q *Query[E, P]) match(e P) bool {
	for _, pred := range q.preds {
		if !pred(e) {
			return false
		}
	}
	return true
}
