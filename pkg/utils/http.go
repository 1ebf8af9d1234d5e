package utils

import (
	"encoding/json"
	"net/http"
)

// JSONError writes a JSON error body with the given status code.
func JSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// JSONWrite writes v as JSON with the given status code. A zero status
// leaves the implicit 200.
func JSONWrite(w http.ResponseWriter, status int, v interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	if status != 0 {
		w.WriteHeader(status)
	}
	return json.NewEncoder(w).Encode(v)
}
