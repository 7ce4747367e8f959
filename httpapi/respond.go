package httpapi

import (
	"encoding/json"
	"net/http"

	stackauth "github.com/yonasBSD/stack-sub000"
)

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body != nil {
		json.NewEncoder(w).Encode(body)
	}
}

type errorBody struct {
	Code    string         `json:"code"`
	Error   string         `json:"error"`
	Details map[string]any `json:"details,omitempty"`
}

// writeError maps core errors to responses. KnownErrors keep their
// stable code and status; anything else is an opaque 500 so internals
// never leak to clients.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	if ke, ok := stackauth.AsKnownError(err); ok {
		writeJSON(w, ke.Status, errorBody{Code: ke.Code, Error: ke.Message, Details: ke.Details})
		return
	}
	s.logger().ErrorContext(r.Context(), "internal error", "path", r.URL.Path, "error", err)
	writeJSON(w, http.StatusInternalServerError, errorBody{
		Code:  "INTERNAL_SERVER_ERROR",
		Error: "Something went wrong.",
	})
}

func decodeBody(r *http.Request, into any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	return dec.Decode(into)
}
