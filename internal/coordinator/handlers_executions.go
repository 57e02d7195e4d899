package coordinator

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/secchiware/coordinator/internal/httputil"
	"github.com/secchiware/coordinator/internal/store"
)

var validReportQueryKeys = map[string]bool{
	"packages": true, "modules": true, "test_sets": true, "tests": true,
}

// GetReports handles GET /environments/{ip}/{port}/reports: no auth.
// Proxies a (validated) query to the node's /reports endpoint and
// persists the returned reports as a new execution. Grounded on
// routes.py's execute_tests.
func (d *Deps) GetReports(w http.ResponseWriter, r *http.Request) {
	ip, port, ok := environmentVars(w, r)
	if !ok {
		return
	}
	ctx := r.Context()
	sessionID, err := d.Store.ActiveSessionID(ctx, ip, port)
	if errors.Is(err, store.ErrNotFound) {
		httputil.NotFound(w, fmt.Sprintf("no environment registered at %s:%d", ip, port))
		return
	}
	if err != nil {
		httputil.InternalError(w, "failed to look up active session")
		return
	}

	query := r.URL.Query()
	if len(query) > 0 {
		for key := range query {
			if !validReportQueryKeys[key] {
				httputil.BadRequest(w, fmt.Sprintf("invalid key %q found in query parameters", key))
				return
			}
		}
	}

	nodeCtx, cancel := d.nodeRPCContext(r)
	defer cancel()
	resp, err := d.Nodes.GetReports(nodeCtx, ip, port, r.URL.RawQuery)
	if err != nil {
		writeGatewayError(w, ip, port, err)
		return
	}

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusBadRequest:
		httputil.InternalError(w, "something went wrong when handling the request")
		return
	case http.StatusNotFound:
		httputil.NotFound(w, "a specified entity does not exist in the node")
		return
	default:
		writeUnexpectedNodeStatus(w, ip, port)
		return
	}

	var reports []store.ReportInput
	if err := json.Unmarshal(resp.Body, &reports); err != nil {
		httputil.BadGateway(w, fmt.Sprintf("node at %s:%d returned a malformed report list", ip, port))
		return
	}
	if _, err := d.Store.RecordExecution(ctx, sessionID, reports); err != nil {
		httputil.InternalError(w, "failed to record execution")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(resp.Body)
}

type reportView struct {
	TestName        string      `json:"test_name"`
	TestDescription string      `json:"test_description"`
	ResultCode      int         `json:"result_code"`
	TimestampStart  string      `json:"timestamp_start"`
	TimestampEnd    string      `json:"timestamp_end"`
	AdditionalInfo  interface{} `json:"additional_info,omitempty"`
}

type executionView struct {
	ExecutionID         int64        `json:"execution_id"`
	SessionID           int64        `json:"session_id"`
	TimestampRegistered string       `json:"timestamp_registered"`
	Reports             []reportView `json:"reports,omitempty"`
}

// SearchExecutions handles GET /executions: unauthenticated, parametrized
// search with every execution's reports nested in. Grounded on
// routes.py's search_executions.
func (d *Deps) SearchExecutions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	executions, err := d.Store.SearchExecutions(ctx, r.URL.Query())
	if errors.Is(err, store.ErrInvalidSearch) {
		httputil.BadRequest(w, err.Error())
		return
	}
	if err != nil {
		httputil.InternalError(w, "failed to search executions")
		return
	}

	out := make([]executionView, 0, len(executions))
	for _, e := range executions {
		reports, err := d.Store.ReportsForExecution(ctx, e.ID)
		if err != nil {
			httputil.InternalError(w, "failed to load reports for execution")
			return
		}
		view := executionView{ExecutionID: e.ID, SessionID: e.SessionID, TimestampRegistered: e.TimestampRegistered}
		for _, rep := range reports {
			rv := reportView{
				TestName:        rep.TestName,
				TestDescription: rep.TestDescription,
				ResultCode:      rep.ResultCode,
				TimestampStart:  rep.TimestampStart,
				TimestampEnd:    rep.TimestampEnd,
			}
			if rep.AdditionalInfo != nil {
				var info interface{}
				if err := json.Unmarshal([]byte(*rep.AdditionalInfo), &info); err == nil {
					rv.AdditionalInfo = info
				}
			}
			view.Reports = append(view.Reports, rv)
		}
		out = append(out, view)
	}
	httputil.WriteJSON(w, http.StatusOK, out)
}

// DeleteExecution handles DELETE /executions/{id}: client-signed.
// Grounded on routes.py's delete_execution.
func (d *Deps) DeleteExecution(w http.ResponseWriter, r *http.Request) {
	if !d.requireClientAuth(w, r) {
		return
	}
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		httputil.BadRequest(w, "invalid execution id")
		return
	}
	err = d.Store.DeleteExecution(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		httputil.NotFound(w, "no execution found with given id")
		return
	}
	if err != nil {
		httputil.InternalError(w, "failed to delete execution")
		return
	}
	httputil.NoContent(w)
}
