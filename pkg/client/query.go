package client

import (
	"context"
	"fmt"
	"iter"
	"net/http"

	"github.com/nnnkkk7/presto-page/pkg/page"
	"github.com/sirupsen/logrus"
)

const errorNameUserCanceled = "USER_CANCELED"

// Query is one submitted statement positioned on its latest page.
type Query struct {
	client  *Client
	log     logrus.FieldLogger
	current *page.ResultPage
	columns []page.Column
	pages   int
}

// accept makes p the current page. The first schema seen is kept for later
// pages that omit their columns.
func (q *Query) accept(p *page.ResultPage) {
	if len(q.columns) == 0 {
		q.columns = p.Columns()
	}
	q.current = p.WithColumns(q.columns)
	q.pages++
}

// ID returns the query id.
func (q *Query) ID() string {
	return q.current.ID()
}

// Page returns the current page.
func (q *Query) Page() *page.ResultPage {
	return q.current
}

// Pages returns how many pages have been fetched so far.
func (q *Query) Pages() int {
	return q.pages
}

// Columns returns the schema, empty until a page has carried one.
func (q *Query) Columns() []page.Column {
	out := make([]page.Column, len(q.columns))
	copy(out, q.columns)
	return out
}

// Stats returns the statistics of the current page.
func (q *Query) Stats() *page.StatementStats {
	return q.current.Stats()
}

// Done reports whether the current page is the last one.
func (q *Query) Done() bool {
	return q.current.Finished() || q.current.Failed()
}

// Err returns the query failure reported by the current page, if any.
func (q *Query) Err() error {
	qe := q.current.QueryError()
	if qe == nil {
		return nil
	}
	if qe.ErrorName == errorNameUserCanceled {
		return fmt.Errorf("%w: %w", ErrQueryCanceled, qe)
	}
	return qe
}

// Next fetches the page after the current one. It returns false when the
// current page was the last; the error is then the query failure, if any.
func (q *Query) Next(ctx context.Context) (bool, error) {
	if err := q.Err(); err != nil {
		return false, err
	}
	next, ok := q.current.NextURI()
	if !ok {
		return false, nil
	}

	p, err := q.client.fetchPage(ctx, http.MethodGet, next, "")
	if err != nil {
		return false, err
	}
	q.accept(p)

	entry := q.log.WithFields(logrus.Fields{"page": q.pages, "rows": p.RowCount()})
	if stats := p.Stats(); stats != nil {
		entry = entry.WithField("state", stats.State)
	}
	entry.Debug("fetched page")
	return true, nil
}

// Rows returns the rows of the current page and every following page, fetching
// pages as the sequence is consumed. Empty markers are skipped. The sequence
// resumes from the current page, so a second call after a full pass yields
// nothing new.
func (q *Query) Rows(ctx context.Context, mode page.RowMode) iter.Seq2[page.Row, error] {
	return func(yield func(page.Row, error) bool) {
		for {
			for row, err := range q.current.Rows(mode) {
				if err != nil {
					yield(page.Row{}, err)
					return
				}
				if row.Empty() {
					continue
				}
				if !yield(row, nil) {
					return
				}
			}

			more, err := q.Next(ctx)
			if err != nil {
				yield(page.Row{}, err)
				return
			}
			if !more {
				return
			}
		}
	}
}

// Cancel asks the coordinator to stop the query. It uses the partial cancel URI
// when the page offers one and the next URI otherwise. Finished queries are left alone.
func (q *Query) Cancel(ctx context.Context) error {
	if q.Done() {
		return nil
	}
	target, ok := q.current.PartialCancelURI()
	if !ok {
		target, _ = q.current.NextURI()
	}

	resp, err := q.client.roundTrip(ctx, http.MethodDelete, target, "")
	if err != nil {
		return fmt.Errorf("failed to cancel query %s: %w", q.ID(), err)
	}
	_ = resp.Body.Close()
	q.log.Info("query cancel requested")
	return nil
}
