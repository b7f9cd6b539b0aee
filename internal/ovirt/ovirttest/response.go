package ovirttest

import (
	"encoding/json"
	"net/http"
)

// JSONResponse is a helper for sending JSON responses.
func JSONResponse(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

// FaultResponse sends an engine fault.
func FaultResponse(w http.ResponseWriter, reason, detail string, statusCode int) {
	JSONResponse(w, map[string]string{"reason": reason, "detail": detail}, statusCode)
}
