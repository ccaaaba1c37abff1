package correlation

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/HerbHall/netcorrelate/internal/server"
	"github.com/HerbHall/netcorrelate/internal/services"
	"github.com/HerbHall/netcorrelate/pkg/models"
	"github.com/HerbHall/netcorrelate/pkg/plugin"
	"go.uber.org/zap"
)

// resolveRequest is the JSON body for POST /conflicts/{id}/resolve.
type resolveRequest struct {
	Resolution string `json:"resolution"`
	ResolvedBy string `json:"resolved_by"`
}

// mergeRequest is the JSON body for POST /merge.
type mergeRequest struct {
	PrimaryGUID   string `json:"primary_guid"`
	SecondaryGUID string `json:"secondary_guid"`
	ResolvedBy    string `json:"resolved_by"`
}

// Routes implements plugin.Plugin.
func (m *Module) Routes() []plugin.Route {
	return []plugin.Route{
		{Method: "POST", Path: "/runs", Handler: m.handleTriggerRun},
		{Method: "GET", Path: "/runs", Handler: m.handleListRuns},
		{Method: "GET", Path: "/runs/{id}", Handler: m.handleGetRun},
		{Method: "GET", Path: "/conflicts", Handler: m.handleListConflicts},
		{Method: "GET", Path: "/conflicts/{id}", Handler: m.handleGetConflict},
		{Method: "POST", Path: "/conflicts/{id}/resolve", Handler: m.handleResolveConflict},
		{Method: "POST", Path: "/merge", Handler: m.handleMerge},
		{Method: "GET", Path: "/hosts/{guid}/unified", Handler: m.handleUnifiedView},
		{Method: "GET", Path: "/identities", Handler: m.handleListIdentities},
		{Method: "GET", Path: "/merges", Handler: m.handleListMerges},
	}
}

// handleTriggerRun runs one correlation pass synchronously.
func (m *Module) handleTriggerRun(w http.ResponseWriter, r *http.Request) {
	if m.limiter != nil && !m.limiter.Allow() {
		server.RateLimited(w, "correlation runs are rate limited", r.URL.Path)
		return
	}
	res, err := m.service.RunCorrelation(r.Context())
	if err != nil {
		m.writeError(w, r, err, "failed to run correlation")
		return
	}
	server.WriteJSON(w, http.StatusOK, res)
}

func (m *Module) handleListRuns(w http.ResponseWriter, r *http.Request) {
	opts, ok := listOptions(w, r)
	if !ok {
		return
	}
	runs, err := m.service.ListRuns(r.Context(), opts)
	if err != nil {
		m.writeError(w, r, err, "failed to list runs")
		return
	}
	server.WriteJSON(w, http.StatusOK, runs)
}

func (m *Module) handleGetRun(w http.ResponseWriter, r *http.Request) {
	res, err := m.service.GetRun(r.Context(), r.PathValue("id"))
	if err != nil {
		m.writeError(w, r, err, "failed to get run")
		return
	}
	server.WriteJSON(w, http.StatusOK, res)
}

func (m *Module) handleListConflicts(w http.ResponseWriter, r *http.Request) {
	opts, ok := listOptions(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	filter := services.ConflictFilter{
		Status:   models.ConflictStatus(q.Get("status")),
		Reason:   models.ConflictReason(q.Get("reason")),
		HostGUID: q.Get("host"),
	}
	conflicts, err := m.service.ListConflicts(r.Context(), filter, opts)
	if err != nil {
		m.writeError(w, r, err, "failed to list conflicts")
		return
	}
	server.WriteJSON(w, http.StatusOK, conflicts)
}

func (m *Module) handleGetConflict(w http.ResponseWriter, r *http.Request) {
	c, err := m.service.GetConflict(r.Context(), r.PathValue("id"))
	if err != nil {
		m.writeError(w, r, err, "failed to get conflict")
		return
	}
	server.WriteJSON(w, http.StatusOK, c)
}

func (m *Module) handleResolveConflict(w http.ResponseWriter, r *http.Request) {
	var req resolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		server.BadRequest(w, "invalid JSON body", r.URL.Path)
		return
	}
	c, err := m.service.ResolveConflict(r.Context(), r.PathValue("id"), req.Resolution, req.ResolvedBy)
	if err != nil {
		m.writeError(w, r, err, "failed to resolve conflict")
		return
	}
	server.WriteJSON(w, http.StatusOK, c)
}

func (m *Module) handleMerge(w http.ResponseWriter, r *http.Request) {
	var req mergeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		server.BadRequest(w, "invalid JSON body", r.URL.Path)
		return
	}
	host, err := m.service.MergeHosts(r.Context(), req.PrimaryGUID, req.SecondaryGUID, req.ResolvedBy)
	if err != nil {
		m.writeError(w, r, err, "failed to merge hosts")
		return
	}
	server.WriteJSON(w, http.StatusOK, host)
}

func (m *Module) handleUnifiedView(w http.ResponseWriter, r *http.Request) {
	view, err := m.service.GetUnifiedHostView(r.Context(), r.PathValue("guid"))
	if err != nil {
		m.writeError(w, r, err, "failed to build host view")
		return
	}
	server.WriteJSON(w, http.StatusOK, view)
}

func (m *Module) handleListIdentities(w http.ResponseWriter, r *http.Request) {
	opts, ok := listOptions(w, r)
	if !ok {
		return
	}
	idents, err := m.service.ListDeviceIdentities(r.Context(), opts)
	if err != nil {
		m.writeError(w, r, err, "failed to list identities")
		return
	}
	server.WriteJSON(w, http.StatusOK, idents)
}

func (m *Module) handleListMerges(w http.ResponseWriter, r *http.Request) {
	opts, ok := listOptions(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	filter := services.MergeEventFilter{
		HostGUID: q.Get("host"),
		Method:   models.MergeMethod(q.Get("method")),
	}
	events, err := m.service.ListMergeEvents(r.Context(), filter, opts)
	if err != nil {
		m.writeError(w, r, err, "failed to list merge events")
		return
	}
	server.WriteJSON(w, http.StatusOK, events)
}

// writeError maps service errors to problem responses.
func (m *Module) writeError(w http.ResponseWriter, r *http.Request, err error, msg string) {
	path := r.URL.Path
	switch {
	case errors.Is(err, ErrAlreadyRunning), errors.Is(err, ErrAlreadyResolved):
		server.Conflict(w, err.Error(), path)
	case errors.Is(err, services.ErrNotFound):
		server.NotFound(w, err.Error(), path)
	case errors.Is(err, ErrValidation), errors.Is(err, ErrInvalidMerge):
		server.BadRequest(w, err.Error(), path)
	default:
		m.logger.Warn(msg, zap.String("path", path), zap.Error(err))
		server.InternalError(w, msg, path)
	}
}

// listOptions parses limit, offset, sort and order query parameters.
func listOptions(w http.ResponseWriter, r *http.Request) (services.ListOptions, bool) {
	q := r.URL.Query()
	var opts services.ListOptions
	for _, p := range []struct {
		name string
		dst  *int
	}{{"limit", &opts.Limit}, {"offset", &opts.Offset}} {
		raw := q.Get(p.name)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			server.BadRequest(w, p.name+" must be a non-negative integer", r.URL.Path)
			return opts, false
		}
		*p.dst = n
	}
	opts.SortBy = q.Get("sort")
	opts.SortOrder = q.Get("order")
	return opts, true
}
