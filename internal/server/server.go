package server

import (
	"encoding/json"
	"net/http"
	"time"
)

type Deps struct {
	Controller Controller
	Records    RecordSource
	Auto       AutoControl
	OwnerID    string
}

func Handler(hub *Hub, deps Deps) http.Handler {
	mux := http.NewServeMux()

	registerWSRoute(mux, hub)
	registerAPIRoutes(mux, hub, deps)

	return mux
}

// NewHTTPServer builds the control server. The caller owns ListenAndServe
// and Shutdown.
func NewHTTPServer(addr string, hub *Hub, deps Deps) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           Handler(hub, deps),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
