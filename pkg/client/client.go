// Package client drives the Presto statement protocol: it submits SQL, follows
// the nextUri chain page by page and exposes the rows of every page.
package client

import (
	"context"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/nnnkkk7/presto-page/pkg/config"
	"github.com/nnnkkk7/presto-page/pkg/page"
	"github.com/sirupsen/logrus"
)

const userAgent = "presto-page"

// Client talks to one coordinator. It is safe for concurrent use; each Query
// returned by Submit is not.
type Client struct {
	cfg        config.Client
	baseURL    *url.URL
	httpClient *http.Client
	log        logrus.FieldLogger
	clock      clockwork.Clock

	mu      sync.Mutex
	catalog string
	schema  string
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the HTTP client used for every request.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithLogger sets the logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(c *Client) {
		c.log = l
	}
}

// WithClock sets the clock used to wait between retries.
func WithClock(clock clockwork.Clock) Option {
	return func(c *Client) {
		c.clock = clock
	}
}

// New creates a client for the coordinator at cfg.ServerURL.
func New(cfg config.Client, opts ...Option) (*Client, error) {
	cfg.ApplyDefaults()

	u, err := url.Parse(cfg.ServerURL)
	if err != nil {
		return nil, fmt.Errorf("invalid server url: %w", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("invalid server url %q: want http(s)://host[:port]", cfg.ServerURL)
	}

	c := &Client{
		cfg:     cfg,
		baseURL: u,
		log:     logrus.StandardLogger(),
		clock:   clockwork.NewRealClock(),
		catalog: cfg.Catalog,
		schema:  cfg.Schema,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: cfg.RequestTimeout.Duration}
	}
	return c, nil
}

// Session returns the catalog and schema sent with new statements. They change
// when the coordinator answers a USE statement.
func (c *Client) Session() (catalog, schema string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.catalog, c.schema
}

// Submit posts sql and returns the query positioned on its first page.
func (c *Client) Submit(ctx context.Context, sql string) (*Query, error) {
	if strings.TrimSpace(sql) == "" {
		return nil, fmt.Errorf("empty SQL statement")
	}

	target := c.baseURL.JoinPath(config.StatementPath).String()
	p, err := c.fetchPage(ctx, http.MethodPost, target, sql)
	if err != nil {
		return nil, err
	}

	q := &Query{client: c}
	q.accept(p)
	q.log = c.log.WithField("query_id", p.ID())
	q.log.Debug("query submitted")
	return q, nil
}

// Result is a fully drained query.
type Result struct {
	ID          string
	Columns     []page.Column
	Rows        []page.Row
	Stats       *page.StatementStats
	UpdateType  string
	UpdateCount int64
}

// Query submits sql and collects every row of every page.
func (c *Client) Query(ctx context.Context, sql string, mode page.RowMode) (*Result, error) {
	q, err := c.Submit(ctx, sql)
	if err != nil {
		return nil, err
	}

	res := &Result{ID: q.ID()}
	for row, err := range q.Rows(ctx, mode) {
		if err != nil {
			return nil, err
		}
		res.Rows = append(res.Rows, row)
	}

	res.Columns = q.Columns()
	res.Stats = q.Stats()
	res.UpdateType, _ = q.Page().UpdateType()
	res.UpdateCount, _ = q.Page().UpdateCount()
	return res, nil
}

func (c *Client) newRequest(ctx context.Context, method, target, body string) (*http.Request, error) {
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, r)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}

	catalog, schema := c.Session()
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set(config.HeaderUser.String(), c.cfg.User)
	req.Header.Set(config.HeaderSource.String(), c.cfg.Source)
	if catalog != "" {
		req.Header.Set(config.HeaderCatalog.String(), catalog)
	}
	if schema != "" {
		req.Header.Set(config.HeaderSchema.String(), schema)
	}
	if c.cfg.TimeZone != "" {
		req.Header.Set(config.HeaderTimeZone.String(), c.cfg.TimeZone)
	}
	if len(c.cfg.Session) > 0 {
		props := make([]string, 0, len(c.cfg.Session))
		for k, v := range c.cfg.Session {
			props = append(props, k+"="+url.QueryEscape(v))
		}
		sort.Strings(props)
		req.Header.Set(config.HeaderSession.String(), strings.Join(props, ","))
	}
	return req, nil
}

// roundTrip issues one request, retrying while the coordinator is overloaded or
// unreachable through a gateway.
func (c *Client) roundTrip(ctx context.Context, method, target, body string) (*http.Response, error) {
	delay := c.cfg.RetryDelay.Duration
	for attempt := 1; ; attempt++ {
		req, err := c.newRequest(ctx, method, target, body)
		if err != nil {
			return nil, err
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, &ErrQueryFailed{Reason: err}
		}

		switch resp.StatusCode {
		case http.StatusOK, http.StatusNoContent:
			c.updateSession(resp.Header)
			return resp, nil
		case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
			_, _ = io.Copy(io.Discard, resp.Body)
			_ = resp.Body.Close()
			c.log.WithFields(logrus.Fields{
				"status":  resp.StatusCode,
				"attempt": attempt,
				"delay":   delay,
			}).Debug("coordinator busy, retrying")

			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-c.clock.After(delay):
			}
			delay = time.Duration(math.Min(float64(delay)*math.Phi, float64(c.cfg.MaxRetryDelay.Duration)))
		default:
			return nil, newErrQueryFailedFromResponse(resp)
		}
	}
}

func (c *Client) updateSession(h http.Header) {
	catalog := h.Get(config.HeaderSetCatalog.String())
	schema := h.Get(config.HeaderSetSchema.String())
	if catalog == "" && schema == "" {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if catalog != "" {
		c.catalog = catalog
	}
	if schema != "" {
		c.schema = schema
	}
}

func (c *Client) fetchPage(ctx context.Context, method, target, body string) (*page.ResultPage, error) {
	resp, err := c.roundTrip(ctx, method, target, body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read page from %s: %w", target, err)
	}
	p, err := page.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to parse page from %s: %w", target, err)
	}
	return p, nil
}
