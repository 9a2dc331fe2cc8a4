package server

import (
	"encoding/json"
	"net/http"
	"strconv"
)

type errorBody struct {
	Detail string `json:"detail"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, errorBody{Detail: detail})
}

func writeStatus(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"status": message})
}

// decodeJSON reads a JSON body of at most 1 MiB into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusUnprocessableEntity, "Invalid request body")
		return false
	}
	return true
}

// pageParams reads skip and limit, falling back to the defaults for
// missing or invalid values. limit is capped at 100.
func pageParams(r *http.Request, defaultLimit int) (offset, limit int) {
	q := r.URL.Query()
	offset, limit = 0, defaultLimit
	if v, err := strconv.Atoi(q.Get("skip")); err == nil && v >= 0 {
		offset = v
	}
	if v, err := strconv.Atoi(q.Get("limit")); err == nil && v > 0 {
		limit = v
	}
	if limit > 100 {
		limit = 100
	}
	return offset, limit
}
