package httpapi

import (
	"encoding/json"
	"net/http"

	"fleetpulse/internal/counters"
	"fleetpulse/internal/fanout"
	"fleetpulse/internal/query"
	"fleetpulse/internal/store"
	"fleetpulse/pkg/apperror"
	"fleetpulse/pkg/logger"
	"fleetpulse/pkg/report"
)

const (
	defaultWindowSeconds = int64(300)
	defaultHistoryLimit  = 100
	maxHistoryLimit      = 1000
)

type handlers struct {
	query        *query.Service
	report       *report.Service
	hub          *fanout.Hub
	counters     *counters.Operational
	ready        ReadyFunc
	defaultLimit int
	maxLimit     int
}

func newHandlers(deps Deps) *handlers {
	h := &handlers{
		query:        deps.Query,
		report:       deps.Report,
		hub:          deps.Hub,
		counters:     deps.Counters,
		ready:        deps.Ready,
		defaultLimit: deps.DefaultLimit,
		maxLimit:     deps.MaxLimit,
	}
	if h.defaultLimit <= 0 {
		h.defaultLimit = defaultHistoryLimit
	}
	if h.maxLimit <= 0 {
		h.maxLimit = maxHistoryLimit
	}
	return h
}

func (h *handlers) healthz(w http.ResponseWriter, r *http.Request) {
	if !requireGET(w, r) {
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handlers) readyz(w http.ResponseWriter, r *http.Request) {
	if !requireGET(w, r) {
		return
	}
	if h.ready != nil && !h.ready() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not_ready"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (h *handlers) stats(w http.ResponseWriter, r *http.Request) {
	if !requireGET(w, r) {
		return
	}
	snap := h.query.FleetSnapshot(query.SnapshotFilter{IncludeMetrics: true})
	resp := map[string]any{
		"vehiclesTracked": len(snap.Vehicles),
	}
	if snap.Metrics != nil {
		resp["totalMessages"] = snap.Metrics.TotalMessages
		resp["invalidMessages"] = snap.Metrics.InvalidMessages
		resp["connectedClients"] = snap.Metrics.ConnectedClients
		resp["messageRatePerSecond"] = snap.Metrics.MessageRatePerSec
		resp["windowSeconds"] = snap.Metrics.RateWindowSeconds
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *handlers) summary(w http.ResponseWriter, r *http.Request) {
	if !requireGET(w, r) {
		return
	}

	start, end, err := timeRange(r)
	if err != nil {
		writeError(w, apperror.New(apperror.CodeInvalidTimeRange, err.Error()))
		return
	}

	windowSeconds := int64Param(r, "windowSeconds", defaultWindowSeconds)

	buckets, resolvedWindow, err := h.query.Aggregates(r.Context(), query.AggregateFilter{
		VehicleIDs:    vehicleIDs(r),
		Start:         start,
		End:           end,
		WindowSeconds: windowSeconds,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	selection := aggregateSelection(r)
	writeJSON(w, http.StatusOK, map[string]any{
		"windowSeconds": resolvedWindow,
		"buckets":       projectBuckets(buckets, selection),
	})
}

func (h *handlers) history(w http.ResponseWriter, r *http.Request) {
	if !requireGET(w, r) {
		return
	}

	start, end, err := timeRange(r)
	if err != nil {
		writeError(w, apperror.New(apperror.CodeInvalidTimeRange, err.Error()))
		return
	}

	limit := intParam(r, "limit", h.defaultLimit)
	if limit <= 0 || limit > h.maxLimit {
		limit = h.defaultLimit
	}

	events, next, err := h.query.History(r.Context(), query.HistoryFilter{
		VehicleIDs: vehicleIDs(r),
		Start:      start,
		End:        end,
		Limit:      limit,
		PageToken:  pageToken(r),
	})
	if err != nil {
		writeError(w, err)
		return
	}

	resp := map[string]any{"events": events}
	if next != nil {
		resp["pageToken"] = *next
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *handlers) exportReport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"status": "method_not_allowed"})
		return
	}

	start, end, err := timeRange(r)
	if err != nil {
		writeError(w, apperror.New(apperror.CodeInvalidTimeRange, err.Error()))
		return
	}

	format := report.Format(r.URL.Query().Get("format"))
	if format == "" {
		format = report.FormatPDF
	}
	windowSeconds := int64Param(r, "windowSeconds", defaultWindowSeconds)

	out, err := h.report.Generate(r.Context(), report.Request{
		VehicleIDs:    vehicleIDs(r),
		Start:         start,
		End:           end,
		WindowSeconds: windowSeconds,
		Format:        format,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Content-Disposition", "attachment; filename=\"fleet-report."+format.Extension()+"\"")
	w.WriteHeader(http.StatusOK)
	if _, werr := w.Write(out); werr != nil {
		logger.Log.Warn("httpapi: failed to write report response", "error", werr)
	}
}

func requireGET(w http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"status": "method_not_allowed"})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Log.Warn("httpapi: failed to encode response", "error", err)
	}
}

// writeError maps an apperror.Error (or any other error) to an HTTP
// status: invalid-argument kinds map to 400, not-found to 404,
// everything else to 500 with only the human-readable message surfaced.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch apperror.Code(err) {
	case apperror.CodeInvalidArgument, apperror.CodeInvalidTimeRange, apperror.CodeInvalidPagination:
		status = http.StatusBadRequest
	case apperror.CodeNotFound:
		status = http.StatusNotFound
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// projectBuckets trims RollupBucket to the caller-selected fields when a
// non-empty selection is supplied, otherwise
// returns every field.
func projectBuckets(buckets []store.RollupBucket, selection []string) []map[string]any {
	want := make(map[string]bool, len(selection))
	for _, s := range selection {
		want[s] = true
	}
	include := func(field string) bool { return len(want) == 0 || want[field] }

	out := make([]map[string]any, 0, len(buckets))
	for _, b := range buckets {
		row := map[string]any{
			"vehicleId":   b.VehicleID,
			"bucketStart": b.BucketStart,
			"bucketEnd":   b.BucketEnd,
		}
		if include("avgSpeed") {
			row["avgSpeed"] = b.AvgSpeed
		}
		if include("maxSpeed") {
			row["maxSpeed"] = b.MaxSpeed
		}
		if include("minFuel") {
			row["minFuel"] = b.MinFuel
		}
		if include("totalDistance") {
			row["totalDistance"] = b.TotalDistance
		}
		if include("sampleCount") {
			row["sampleCount"] = b.SampleCount
		}
		out = append(out, row)
	}
	return out
}
