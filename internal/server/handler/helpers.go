package handler

import (
	"encoding/json"
	"net/http"
	"strconv"
)

const (
	defaultLimit = 50
	maxLimit     = 500
	maxDepth     = 200
)

// writeJSON marshals v as JSON and writes it with the given status. If
// marshaling fails it falls back to a plain 500.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(data)
}

// writeError sends a JSON-formatted error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// queryInt reads a positive integer query parameter. Missing values yield
// def; malformed or non-positive values are a client error.
func queryInt(r *http.Request, name string, def, ceiling int) (int, bool) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, true
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, false
	}
	return min(n, ceiling), true
}
