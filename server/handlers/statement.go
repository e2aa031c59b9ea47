// Package handlers serves the Presto statement protocol over chi.
package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jonboulle/clockwork"
	"github.com/nnnkkk7/presto-page/pkg/config"
	"github.com/nnnkkk7/presto-page/pkg/page"
	"github.com/nnnkkk7/presto-page/pkg/query"
	"github.com/nnnkkk7/presto-page/server/apierror"
	"github.com/nnnkkk7/presto-page/server/types"
	"github.com/sirupsen/logrus"
)

const maxStatementBytes = 1 << 20

// StatementHandler serves /v1/statement, /v1/stage and /v1/query.
type StatementHandler struct {
	stmtMgr     *query.StatementManager
	pageSize    int
	externalURL string
	clock       clockwork.Clock
	log         logrus.FieldLogger
	started     time.Time
}

// NewStatementHandler creates a handler serving statements tracked by stmtMgr.
func NewStatementHandler(stmtMgr *query.StatementManager, cfg config.ServerConfig, log logrus.FieldLogger) *StatementHandler {
	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = config.DefaultPageSize
	}
	clock := clockwork.NewRealClock()
	return &StatementHandler{
		stmtMgr:     stmtMgr,
		pageSize:    pageSize,
		externalURL: strings.TrimSuffix(cfg.ExternalURL, "/"),
		clock:       clock,
		log:         log,
		started:     clock.Now(),
	}
}

// Routes registers the handler on r.
func (h *StatementHandler) Routes(r chi.Router) {
	r.Post(config.StatementPath, h.SubmitStatement)
	r.Get(config.StatementPath+"/{queryId}/{token}", h.GetStatement)
	r.Delete(config.StatementPath+"/{queryId}/{token}", h.CancelStatement)
	r.Delete(config.StagePath+"/{stageId}", h.CancelStage)
	r.Get(config.QueryInfoPath+"/{queryId}", h.GetQueryInfo)
	r.Get(config.ServerInfo, h.GetServerInfo)
}

// SubmitStatement handles POST /v1/statement. The body is the SQL text.
func (h *StatementHandler) SubmitStatement(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxStatementBytes))
	if err != nil {
		apierror.NewBadRequestError("Failed to read statement: " + err.Error()).WriteJSON(w)
		return
	}
	sqlText := strings.TrimSpace(string(body))
	if sqlText == "" {
		apierror.NewBadRequestError("SQL statement is empty").WriteJSON(w)
		return
	}

	user := r.Header.Get(config.HeaderUser.String())
	if user == "" {
		apierror.NewBadRequestError("User must be set").WriteJSON(w)
		return
	}

	sess := query.Session{
		Catalog: r.Header.Get(config.HeaderCatalog.String()),
		Schema:  r.Header.Get(config.HeaderSchema.String()),
	}
	if sess.Catalog == "" {
		sess.Catalog = config.DefaultCatalog
	}
	if sess.Schema == "" {
		sess.Schema = config.DefaultSchema
	}

	stmt, err := h.stmtMgr.Submit(sqlText, sess, user, r.Header.Get(config.HeaderSource.String()))
	if err != nil {
		pe := apierror.FromError(err)
		pe.HTTPStatus = http.StatusServiceUnavailable
		pe.WriteJSON(w)
		return
	}

	base := h.baseURL(r)
	h.writeResults(w, types.QueryResults{
		ID:               stmt.ID,
		InfoURI:          infoURI(base, stmt.ID),
		PartialCancelURI: stageURI(base, stmt.ID),
		NextURI:          nextURI(base, stmt.ID, 1),
		Stats:            stmt.Stats(h.clock.Now()),
	}, nil)
}

// GetStatement handles GET /v1/statement/{queryId}/{token}. It holds the
// request for up to maxWait while the statement runs.
func (h *StatementHandler) GetStatement(w http.ResponseWriter, r *http.Request) {
	queryID := chi.URLParam(r, "queryId")
	rawToken := chi.URLParam(r, "token")

	token, err := strconv.ParseInt(rawToken, 10, 64)
	if err != nil || token < 1 {
		apierror.NewInvalidTokenError(queryID, rawToken).WriteJSON(w)
		return
	}

	stmt, err := h.stmtMgr.Wait(r.Context(), queryID, maxWait(r))
	if err != nil {
		if errors.Is(err, query.ErrStatementNotFound) {
			apierror.NewQueryNotFoundError(queryID).WriteJSON(w)
			return
		}
		// The client went away.
		return
	}

	base := h.baseURL(r)
	results := types.QueryResults{
		ID:      stmt.ID,
		InfoURI: infoURI(base, stmt.ID),
		Stats:   stmt.Stats(h.clock.Now()),
	}

	switch {
	case !stmt.State.Done():
		if token != 1 {
			apierror.NewInvalidTokenError(queryID, rawToken).WriteJSON(w)
			return
		}
		results.PartialCancelURI = stageURI(base, stmt.ID)
		results.NextURI = nextURI(base, stmt.ID, token)
		h.writeResults(w, results, nil)

	case stmt.Error != nil:
		results.Error = stmt.Error.QueryError()
		h.writeResults(w, results, nil)

	default:
		res := stmt.Result
		if res == nil {
			res = &query.Result{}
		}
		pages := h.pageCount(len(res.Rows))
		if token > pages {
			apierror.NewInvalidTokenError(queryID, rawToken).WriteJSON(w)
			return
		}

		start := int(token-1) * h.pageSize
		end := min(start+h.pageSize, len(res.Rows))
		results.Columns = res.Columns
		results.Data = res.Rows[start:end]
		results.UpdateType = res.UpdateType
		results.UpdateCount = res.UpdateCount
		if token < pages {
			results.NextURI = nextURI(base, stmt.ID, token+1)
		}
		h.writeResults(w, results, res)
	}
}

// CancelStatement handles DELETE /v1/statement/{queryId}/{token}. A running
// query is canceled and its failure stays readable; a query that has already
// finished is released and later requests for it get 404.
func (h *StatementHandler) CancelStatement(w http.ResponseWriter, r *http.Request) {
	queryID := chi.URLParam(r, "queryId")
	if stmt, ok := h.stmtMgr.Get(queryID); ok && stmt.State.Done() {
		h.release(w, queryID)
		return
	}
	h.cancel(w, queryID)
}

// CancelStage handles DELETE /v1/stage/{stageId}. Every query has the single
// stage {queryId}.0, so canceling it cancels the query.
func (h *StatementHandler) CancelStage(w http.ResponseWriter, r *http.Request) {
	stageID := chi.URLParam(r, "stageId")
	queryID, _, ok := strings.Cut(stageID, ".")
	if !ok {
		apierror.NewBadRequestError("Invalid stage id: " + stageID).WriteJSON(w)
		return
	}
	h.cancel(w, queryID)
}

func (h *StatementHandler) cancel(w http.ResponseWriter, queryID string) {
	if err := h.stmtMgr.Cancel(queryID); err != nil {
		if errors.Is(err, query.ErrStatementNotFound) {
			apierror.NewQueryNotFoundError(queryID).WriteJSON(w)
			return
		}
		apierror.FromError(err).WriteJSON(w)
		return
	}
	h.log.WithField("query_id", queryID).Info("query canceled by client")
	w.WriteHeader(http.StatusNoContent)
}

func (h *StatementHandler) release(w http.ResponseWriter, queryID string) {
	if err := h.stmtMgr.Delete(queryID); err != nil {
		if errors.Is(err, query.ErrStatementNotFound) {
			apierror.NewQueryNotFoundError(queryID).WriteJSON(w)
			return
		}
		apierror.FromError(err).WriteJSON(w)
		return
	}
	h.log.WithField("query_id", queryID).Debug("finished query released by client")
	w.WriteHeader(http.StatusNoContent)
}

// GetQueryInfo handles GET /v1/query/{queryId}.
func (h *StatementHandler) GetQueryInfo(w http.ResponseWriter, r *http.Request) {
	queryID := chi.URLParam(r, "queryId")
	stmt, ok := h.stmtMgr.Get(queryID)
	if !ok {
		apierror.NewQueryNotFoundError(queryID).WriteJSON(w)
		return
	}

	now := h.clock.Now()
	end := now
	if stmt.EndedAt != nil {
		end = *stmt.EndedAt
	}
	stats := types.QueryStats{
		CreateTime:         stmt.CreatedAt,
		ExecutionStartTime: stmt.StartedAt,
		EndTime:            stmt.EndedAt,
		ElapsedTime:        types.FormatDuration(end.Sub(stmt.CreatedAt)),
		QueuedTime:         types.FormatDuration(end.Sub(stmt.CreatedAt)),
		ExecutionTime:      types.FormatDuration(0),
	}
	if stmt.StartedAt != nil {
		stats.QueuedTime = types.FormatDuration(stmt.StartedAt.Sub(stmt.CreatedAt))
		stats.ExecutionTime = types.FormatDuration(end.Sub(*stmt.StartedAt))
	}

	info := types.QueryInfo{
		QueryID: stmt.ID,
		State:   string(stmt.State),
		Query:   stmt.SQL,
		Self:    h.baseURL(r) + config.QueryInfoPath + "/" + stmt.ID,
		Session: types.SessionInfo{
			User:    stmt.User,
			Source:  stmt.Source,
			Catalog: stmt.Session.Catalog,
			Schema:  stmt.Session.Schema,
		},
		QueryStats: stats,
	}
	if stmt.Result != nil {
		info.QueryStats.OutputPositions = stmt.Result.ProcessedRows()
		info.UpdateType = stmt.Result.UpdateType
	}
	if stmt.Error != nil {
		info.ErrorType = stmt.Error.Type
		info.ErrorCode = &types.ErrorCodeInfo{Code: stmt.Error.Code, Name: stmt.Error.Name, Type: stmt.Error.Type}
		info.Error = stmt.Error.QueryError()
	}
	writeJSON(w, info)
}

// GetServerInfo handles GET /v1/info.
func (h *StatementHandler) GetServerInfo(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, types.ServerInfo{
		NodeVersion: types.NodeVersion{Version: config.Version},
		Environment: "emulator",
		Coordinator: true,
		Uptime:      types.FormatDuration(h.clock.Since(h.started)),
	})
}

// writeResults writes one statement page. A finished USE statement also sets
// the client's session through response headers.
func (h *StatementHandler) writeResults(w http.ResponseWriter, results types.QueryResults, res *query.Result) {
	if res != nil {
		if res.SetCatalog != "" {
			w.Header().Set(config.HeaderSetCatalog.String(), res.SetCatalog)
		}
		if res.SetSchema != "" {
			w.Header().Set(config.HeaderSetSchema.String(), res.SetSchema)
		}
	}
	if results.Warnings == nil {
		results.Warnings = []page.Warning{}
	}
	writeJSON(w, results)
}

// pageCount returns how many data pages rows fill. A result without rows still
// has one page carrying its columns.
func (h *StatementHandler) pageCount(rows int) int64 {
	if rows == 0 {
		return 1
	}
	return int64((rows + h.pageSize - 1) / h.pageSize)
}

func (h *StatementHandler) baseURL(r *http.Request) string {
	if h.externalURL != "" {
		return h.externalURL
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}
	return scheme + "://" + r.Host
}

func maxWait(r *http.Request) time.Duration {
	wait := config.DefaultMaxWait
	if v := r.URL.Query().Get("maxWait"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d >= 0 {
			wait = d
		}
	}
	return min(wait, config.MaxMaxWait)
}

func infoURI(base, queryID string) string {
	return base + config.UIQueryPath + "?" + queryID
}

func stageURI(base, queryID string) string {
	return base + config.StagePath + "/" + queryID + ".0"
}

func nextURI(base, queryID string, token int64) string {
	return base + config.StatementPath + "/" + queryID + "/" + strconv.FormatInt(token, 10)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(v)
}
