package httpapi

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// vehicleIDs collects the repeatable, comma-splittable vehicleId query
// parameter.
func vehicleIDs(r *http.Request) []string {
	var out []string
	for _, raw := range r.URL.Query()["vehicleId"] {
		for _, part := range strings.Split(raw, ",") {
			part = strings.TrimSpace(part)
			if part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// timeRange resolves the start/end/durationSeconds query parameters into
// a concrete [start, end) range. When neither start nor end is given,
// it defaults to the last hour.
func timeRange(r *http.Request) (start, end time.Time, err error) {
	q := r.URL.Query()
	startRaw, hasStart := q["start"]
	endRaw, hasEnd := q["end"]

	var duration time.Duration
	if raw := q.Get("durationSeconds"); raw != "" {
		secs, perr := strconv.ParseInt(raw, 10, 64)
		if perr != nil {
			return time.Time{}, time.Time{}, perr
		}
		duration = time.Duration(secs) * time.Second
	}

	switch {
	case hasStart && hasEnd:
		if start, err = time.Parse(time.RFC3339, startRaw[0]); err != nil {
			return
		}
		end, err = time.Parse(time.RFC3339, endRaw[0])
		return
	case hasStart:
		if start, err = time.Parse(time.RFC3339, startRaw[0]); err != nil {
			return
		}
		if duration <= 0 {
			duration = time.Hour
		}
		end = start.Add(duration)
		return
	case hasEnd:
		if end, err = time.Parse(time.RFC3339, endRaw[0]); err != nil {
			return
		}
		if duration <= 0 {
			duration = time.Hour
		}
		start = end.Add(-duration)
		return
	default:
		if duration <= 0 {
			duration = time.Hour
		}
		end = time.Now().UTC()
		start = end.Add(-duration)
		return
	}
}

// intParam parses a single integer query parameter, returning def when
// absent or unparseable.
func intParam(r *http.Request, name string, def int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return v
}

// int64Param parses a single int64 query parameter, returning def when
// absent or unparseable.
func int64Param(r *http.Request, name string, def int64) int64 {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return def
	}
	return v
}

// pageToken parses the pageToken query parameter, if present.
func pageToken(r *http.Request) *int64 {
	raw := r.URL.Query().Get("pageToken")
	if raw == "" {
		return nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil
	}
	return &v
}

// aggregateSelection returns the repeatable "aggregate" query parameter,
// naming which bucket fields the caller wants in the response. An empty
// selection means "all fields".
func aggregateSelection(r *http.Request) []string {
	return r.URL.Query()["aggregate"]
}
