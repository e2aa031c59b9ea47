package handlers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/nnnkkk7/presto-page/pkg/config"
	"github.com/nnnkkk7/presto-page/pkg/connection"
	"github.com/nnnkkk7/presto-page/pkg/page"
	"github.com/nnnkkk7/presto-page/pkg/query"
	"github.com/nnnkkk7/presto-page/server/types"
	"github.com/sirupsen/logrus"
)

var queryIDPattern = regexp.MustCompile(`^\d{8}_\d{6}_\d{5}_[0-9a-f]{5}$`)

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

// setupServer starts a coordinator whose statements are executed by runner.
func setupServer(t *testing.T, runner query.Runner, pageSize int) *httptest.Server {
	t.Helper()

	log := testLogger()
	stmtMgr := query.NewStatementManager(runner, time.Hour, query.WithLogger(log))
	t.Cleanup(stmtMgr.Close)

	h := NewStatementHandler(stmtMgr, config.ServerConfig{PageSize: pageSize}, log)
	srv := httptest.NewServer(NewRouter(h, log))
	t.Cleanup(srv.Close)
	return srv
}

// setupDuckDBServer starts a coordinator backed by an in-memory DuckDB.
func setupDuckDBServer(t *testing.T, pageSize int) *httptest.Server {
	t.Helper()

	mgr, err := connection.Open(context.Background(), ":memory:")
	if err != nil {
		t.Fatalf("failed to open DuckDB: %v", err)
	}
	t.Cleanup(func() {
		if err := mgr.Close(); err != nil {
			t.Errorf("failed to close DB: %v", err)
		}
	})
	return setupServer(t, query.NewExecutor(mgr, testLogger()), pageSize)
}

// blockingRunner keeps every statement running until it is canceled.
type blockingRunner struct{}

func (blockingRunner) Run(ctx context.Context, _ string, _ query.Session) (*query.Result, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func doRequest(t *testing.T, method, target, body string) (*http.Response, []byte) {
	t.Helper()

	req, err := http.NewRequest(method, target, strings.NewReader(body))
	if err != nil {
		t.Fatalf("failed to build request: %v", err)
	}
	req.Header.Set(config.HeaderUser.String(), "tester")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, target, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read body: %v", err)
	}
	return resp, raw
}

func parsePage(t *testing.T, resp *http.Response, raw []byte) *page.ResultPage {
	t.Helper()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, body = %s", resp.StatusCode, raw)
	}
	p, err := page.Parse(raw)
	if err != nil {
		t.Fatalf("Parse() error = %v\nbody: %s", err, raw)
	}
	return p
}

func submit(t *testing.T, srv *httptest.Server, sql string) *page.ResultPage {
	t.Helper()
	resp, raw := doRequest(t, http.MethodPost, srv.URL+config.StatementPath, sql)
	return parsePage(t, resp, raw)
}

// drain follows nextUri from first and returns every page fetched after it.
func drain(t *testing.T, first *page.ResultPage) []*page.ResultPage {
	t.Helper()

	var pages []*page.ResultPage
	current := first
	for i := 0; i < 100; i++ {
		next, ok := current.NextURI()
		if !ok {
			return pages
		}
		resp, raw := doRequest(t, http.MethodGet, next, "")
		current = parsePage(t, resp, raw)
		pages = append(pages, current)
	}
	t.Fatal("nextUri chain did not end")
	return nil
}

func TestStatementHandler_Submit(t *testing.T) {
	srv := setupServer(t, blockingRunner{}, 10)

	p := submit(t, srv, "SELECT 1")

	if !queryIDPattern.MatchString(p.ID()) {
		t.Errorf("ID() = %q, want Presto query id", p.ID())
	}
	if want := srv.URL + "/ui/query.html?" + p.ID(); p.InfoURI() != want {
		t.Errorf("InfoURI() = %q, want %q", p.InfoURI(), want)
	}
	if next, _ := p.NextURI(); next != srv.URL+"/v1/statement/"+p.ID()+"/1" {
		t.Errorf("NextURI() = %q", next)
	}
	if cancel, _ := p.PartialCancelURI(); cancel != srv.URL+"/v1/stage/"+p.ID()+".0" {
		t.Errorf("PartialCancelURI() = %q", cancel)
	}
	if p.Stats() == nil || p.Stats().State != "QUEUED" {
		t.Errorf("Stats() = %+v, want QUEUED", p.Stats())
	}
	if p.RowCount() != 0 || len(p.Columns()) != 0 {
		t.Errorf("queued page carries data: %d rows, %d columns", p.RowCount(), len(p.Columns()))
	}
}

func TestStatementHandler_SubmitErrors(t *testing.T) {
	srv := setupServer(t, blockingRunner{}, 10)

	tests := []struct {
		name     string
		body     string
		user     string
		wantCode int
		wantMsg  string
	}{
		{name: "EmptyBody", body: "  ", user: "tester", wantCode: http.StatusBadRequest, wantMsg: "SQL statement is empty"},
		{name: "MissingUser", body: "SELECT 1", wantCode: http.StatusBadRequest, wantMsg: "User must be set"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := http.NewRequest(http.MethodPost, srv.URL+config.StatementPath, strings.NewReader(tt.body))
			if err != nil {
				t.Fatalf("failed to build request: %v", err)
			}
			if tt.user != "" {
				req.Header.Set(config.HeaderUser.String(), tt.user)
			}
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				t.Fatalf("POST: %v", err)
			}
			defer resp.Body.Close()

			if resp.StatusCode != tt.wantCode {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.wantCode)
			}
			var body struct {
				Message string `json:"message"`
			}
			if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
				t.Fatalf("failed to decode body: %v", err)
			}
			if body.Message != tt.wantMsg {
				t.Errorf("message = %q, want %q", body.Message, tt.wantMsg)
			}
		})
	}
}

func TestStatementHandler_Paging(t *testing.T) {
	srv := setupDuckDBServer(t, 2)

	first := submit(t, srv, "SELECT range AS n FROM range(5) ORDER BY n")
	pages := drain(t, first)
	if len(pages) != 3 {
		t.Fatalf("got %d pages, want 3", len(pages))
	}

	var counts []int
	var values []any
	for _, p := range pages {
		counts = append(counts, p.RowCount())
		if got := page.ColumnNames(p.Columns()); !cmp.Equal(got, []string{"n"}) {
			t.Errorf("columns = %v, want [n]", got)
		}
		for row, err := range p.Rows(page.ModeRecord) {
			if err != nil {
				t.Fatalf("Rows() error = %v", err)
			}
			v, _ := row.Get("n")
			values = append(values, v)
		}
	}

	if diff := cmp.Diff([]int{2, 2, 1}, counts); diff != "" {
		t.Errorf("rows per page mismatch (-want +got):\n%s", diff)
	}
	want := []any{json.Number("0"), json.Number("1"), json.Number("2"), json.Number("3"), json.Number("4")}
	if diff := cmp.Diff(want, values); diff != "" {
		t.Errorf("values mismatch (-want +got):\n%s", diff)
	}

	last := pages[len(pages)-1]
	if !last.Finished() {
		t.Error("last page should be finished")
	}
	if last.Stats().State != "FINISHED" {
		t.Errorf("last page state = %s, want FINISHED", last.Stats().State)
	}
	if raw := last.Columns()[0].RawType(); raw != "bigint" {
		t.Errorf("RawType() = %q, want bigint", raw)
	}
}

func TestStatementHandler_EmptyResult(t *testing.T) {
	srv := setupDuckDBServer(t, 2)

	pages := drain(t, submit(t, srv, "SELECT 1 AS one WHERE false"))
	if len(pages) != 1 {
		t.Fatalf("got %d pages, want 1", len(pages))
	}

	p := pages[0]
	if got := page.ColumnNames(p.Columns()); !cmp.Equal(got, []string{"one"}) {
		t.Errorf("columns = %v, want [one]", got)
	}
	var rows []page.Row
	for row, err := range p.Rows(page.ModeArray) {
		if err != nil {
			t.Fatalf("Rows() error = %v", err)
		}
		rows = append(rows, row)
	}
	if len(rows) != 1 || !rows[0].Empty() {
		t.Errorf("Rows() = %+v, want one empty marker", rows)
	}
}

func TestStatementHandler_FailedQuery(t *testing.T) {
	srv := setupDuckDBServer(t, 10)

	pages := drain(t, submit(t, srv, "SELECT * FROM missing_table"))
	if len(pages) != 1 {
		t.Fatalf("got %d pages, want 1", len(pages))
	}

	p := pages[0]
	if !p.Failed() {
		t.Fatal("page should report failure")
	}
	if _, ok := p.NextURI(); ok {
		t.Error("failed page should not carry nextUri")
	}
	qe := p.QueryError()
	if qe.ErrorName != "NOT_FOUND" || qe.ErrorType != "USER_ERROR" {
		t.Errorf("QueryError() = %+v, want NOT_FOUND USER_ERROR", qe)
	}
	if p.Stats().State != "FAILED" {
		t.Errorf("state = %s, want FAILED", p.Stats().State)
	}
}

func TestStatementHandler_RunningPage(t *testing.T) {
	srv := setupServer(t, blockingRunner{}, 10)

	first := submit(t, srv, "SELECT 1")
	next, _ := first.NextURI()

	resp, raw := doRequest(t, http.MethodGet, next+"?maxWait=10ms", "")
	p := parsePage(t, resp, raw)

	if got, _ := p.NextURI(); got != next {
		t.Errorf("NextURI() = %q, want the same token %q", got, next)
	}
	if p.Stats().State != "RUNNING" {
		t.Errorf("state = %s, want RUNNING", p.Stats().State)
	}
	if p.RowCount() != 0 {
		t.Errorf("RowCount() = %d, want 0", p.RowCount())
	}
}

func TestStatementHandler_Cancel(t *testing.T) {
	tests := []struct {
		name   string
		target func(*page.ResultPage) string
	}{
		{
			name: "PartialCancelURI",
			target: func(p *page.ResultPage) string {
				uri, _ := p.PartialCancelURI()
				return uri
			},
		},
		{
			name: "NextURI",
			target: func(p *page.ResultPage) string {
				uri, _ := p.NextURI()
				return uri
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := setupServer(t, blockingRunner{}, 10)
			first := submit(t, srv, "SELECT 1")

			resp, _ := doRequest(t, http.MethodDelete, tt.target(first), "")
			if resp.StatusCode != http.StatusNoContent {
				t.Fatalf("DELETE status = %d, want 204", resp.StatusCode)
			}

			pages := drain(t, first)
			if len(pages) != 1 {
				t.Fatalf("got %d pages, want 1", len(pages))
			}
			qe := pages[0].QueryError()
			if qe == nil || qe.ErrorName != "USER_CANCELED" {
				t.Errorf("QueryError() = %v, want USER_CANCELED", qe)
			}
		})
	}
}

func TestStatementHandler_DeleteFinishedReleases(t *testing.T) {
	srv := setupDuckDBServer(t, 10)

	first := submit(t, srv, "SELECT 1")
	pages := drain(t, first)
	if last := pages[len(pages)-1]; !last.Finished() || last.Failed() {
		t.Fatalf("last page finished = %v, failed = %v", last.Finished(), last.Failed())
	}

	target := srv.URL + "/v1/statement/" + first.ID() + "/1"
	resp, _ := doRequest(t, http.MethodDelete, target, "")
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("DELETE status = %d, want 204", resp.StatusCode)
	}

	resp, raw := doRequest(t, http.MethodGet, target, "")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("GET after release status = %d, want 404, body = %s", resp.StatusCode, raw)
	}
	resp, _ = doRequest(t, http.MethodDelete, target, "")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("second DELETE status = %d, want 404", resp.StatusCode)
	}
}

func TestStatementHandler_NotFound(t *testing.T) {
	srv := setupServer(t, blockingRunner{}, 10)

	tests := []struct {
		name     string
		method   string
		path     string
		wantCode int
	}{
		{name: "GetUnknownQuery", method: http.MethodGet, path: "/v1/statement/20260101_000000_00001_abcde/1", wantCode: http.StatusNotFound},
		{name: "CancelUnknownQuery", method: http.MethodDelete, path: "/v1/statement/20260101_000000_00001_abcde/1", wantCode: http.StatusNotFound},
		{name: "CancelUnknownStage", method: http.MethodDelete, path: "/v1/stage/20260101_000000_00001_abcde.0", wantCode: http.StatusNotFound},
		{name: "MalformedStage", method: http.MethodDelete, path: "/v1/stage/nodot", wantCode: http.StatusBadRequest},
		{name: "BadToken", method: http.MethodGet, path: "/v1/statement/20260101_000000_00001_abcde/abc", wantCode: http.StatusGone},
		{name: "QueryInfo", method: http.MethodGet, path: "/v1/query/20260101_000000_00001_abcde", wantCode: http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, raw := doRequest(t, tt.method, srv.URL+tt.path, "")
			if resp.StatusCode != tt.wantCode {
				t.Errorf("status = %d, want %d, body = %s", resp.StatusCode, tt.wantCode, raw)
			}
		})
	}
}

func TestStatementHandler_TokenPastLastPage(t *testing.T) {
	srv := setupDuckDBServer(t, 10)

	first := submit(t, srv, "SELECT 1")
	drain(t, first)

	resp, _ := doRequest(t, http.MethodGet, srv.URL+"/v1/statement/"+first.ID()+"/2", "")
	if resp.StatusCode != http.StatusGone {
		t.Errorf("status = %d, want 410", resp.StatusCode)
	}

	// Pages stay readable until the query expires.
	resp, raw := doRequest(t, http.MethodGet, srv.URL+"/v1/statement/"+first.ID()+"/1", "")
	if p := parsePage(t, resp, raw); p.RowCount() != 1 {
		t.Errorf("RowCount() = %d, want 1", p.RowCount())
	}
}

func TestStatementHandler_UseSetsSession(t *testing.T) {
	srv := setupDuckDBServer(t, 10)

	first := submit(t, srv, `USE memory."default"`)
	next, _ := first.NextURI()
	resp, raw := doRequest(t, http.MethodGet, next, "")
	p := parsePage(t, resp, raw)

	if p.QueryError() != nil {
		t.Fatalf("QueryError() = %v", p.QueryError())
	}
	if got := resp.Header.Get(config.HeaderSetCatalog.String()); got != "memory" {
		t.Errorf("%s = %q, want memory", config.HeaderSetCatalog, got)
	}
	if got := resp.Header.Get(config.HeaderSetSchema.String()); got != "default" {
		t.Errorf("%s = %q, want default", config.HeaderSetSchema, got)
	}
	if ut, _ := p.UpdateType(); ut != "USE" {
		t.Errorf("UpdateType() = %q, want USE", ut)
	}
}

func TestStatementHandler_QueryInfo(t *testing.T) {
	srv := setupDuckDBServer(t, 10)

	first := submit(t, srv, "SELECT 42 AS answer")
	drain(t, first)

	resp, raw := doRequest(t, http.MethodGet, srv.URL+"/v1/query/"+first.ID(), "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, body = %s", resp.StatusCode, raw)
	}
	var info types.QueryInfo
	if err := json.Unmarshal(raw, &info); err != nil {
		t.Fatalf("failed to decode query info: %v", err)
	}

	want := types.SessionInfo{User: "tester", Catalog: config.DefaultCatalog, Schema: config.DefaultSchema}
	if diff := cmp.Diff(want, info.Session); diff != "" {
		t.Errorf("session mismatch (-want +got):\n%s", diff)
	}
	if info.QueryID != first.ID() || info.State != "FINISHED" || info.Query != "SELECT 42 AS answer" {
		t.Errorf("QueryInfo = %+v", info)
	}
	if info.QueryStats.OutputPositions != 1 {
		t.Errorf("outputPositions = %d, want 1", info.QueryStats.OutputPositions)
	}
	if info.QueryStats.EndTime == nil {
		t.Error("Expected endTime to be set")
	}
}

func TestStatementHandler_ServerInfo(t *testing.T) {
	srv := setupServer(t, blockingRunner{}, 10)

	resp, raw := doRequest(t, http.MethodGet, srv.URL+"/v1/info", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var info types.ServerInfo
	if err := json.Unmarshal(raw, &info); err != nil {
		t.Fatalf("failed to decode server info: %v", err)
	}
	if !info.Coordinator || info.NodeVersion.Version != config.Version {
		t.Errorf("ServerInfo = %+v", info)
	}

	resp, raw = doRequest(t, http.MethodGet, srv.URL+"/health", "")
	if resp.StatusCode != http.StatusOK || string(raw) != "OK" {
		t.Errorf("health = %d %q", resp.StatusCode, raw)
	}
}

func TestMaxWait(t *testing.T) {
	tests := []struct {
		query string
		want  time.Duration
	}{
		{query: "", want: config.DefaultMaxWait},
		{query: "?maxWait=250ms", want: 250 * time.Millisecond},
		{query: "?maxWait=1m", want: config.MaxMaxWait},
		{query: "?maxWait=bogus", want: config.DefaultMaxWait},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/v1/statement/q/1"+tt.query, nil)
			if got := maxWait(r); got != tt.want {
				t.Errorf("maxWait() = %v, want %v", got, tt.want)
			}
		})
	}
}
