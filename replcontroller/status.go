package replcontroller

import (
	"encoding/json"
	"net/http"

	"github.com/julienschmidt/httprouter"

	"github.com/xufuture/qserv-sub001/replproto"
)

// StatusServer exposes a Controller's registry over a small read-only
// HTTP surface, mirroring the teacher's gatewayHandler/explorerHandler
// GET-only status endpoints (api/gateway.go, api/explorer.go) rather
// than the full control-plane wire protocol: this is operator tooling
// for inspecting what the Controller is doing, not a second way to
// issue requests.
type StatusServer struct {
	controller *Controller
	handler    http.Handler
}

// NewStatusServer builds the router for c's status endpoints:
//
//	GET /requests             -- every outstanding request
//	GET /requests/:id         -- one outstanding request, 404 if unknown
//	GET /workers/:worker/requests -- outstanding requests for one worker
func NewStatusServer(c *Controller) *StatusServer {
	s := &StatusServer{controller: c}
	router := httprouter.New()
	router.NotFound = http.HandlerFunc(s.notFoundHandler)
	router.GET("/requests", s.allRequestsHandler)
	router.GET("/requests/:id", s.requestHandler)
	router.GET("/workers/:worker/requests", s.workerRequestsHandler)
	s.handler = router
	return s
}

// ServeHTTP lets a StatusServer be mounted directly on an http.Server.
func (s *StatusServer) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	s.handler.ServeHTTP(w, req)
}

func (s *StatusServer) allRequestsHandler(w http.ResponseWriter, req *http.Request, _ httprouter.Params) {
	writeJSON(w, s.controller.ActiveRequests())
}

func (s *StatusServer) requestHandler(w http.ResponseWriter, req *http.Request, ps httprouter.Params) {
	id := replproto.RequestID(ps.ByName("id"))
	snap, ok := s.controller.Snapshot(id)
	if !ok {
		writeError(w, "no such request", http.StatusNotFound)
		return
	}
	writeJSON(w, snap)
}

func (s *StatusServer) workerRequestsHandler(w http.ResponseWriter, req *http.Request, ps httprouter.Params) {
	worker := ps.ByName("worker")
	ids := s.controller.RequestsByWorker(worker)
	snaps := make([]RequestSnapshot, 0, len(ids))
	for _, id := range ids {
		if snap, ok := s.controller.Snapshot(id); ok {
			snaps = append(snaps, snap)
		}
	}
	writeJSON(w, snaps)
}

func (s *StatusServer) notFoundHandler(w http.ResponseWriter, req *http.Request) {
	writeError(w, "404 - unrecognized status endpoint", http.StatusNotFound)
}

type apiError struct {
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, message string, code int) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(apiError{message})
}

func writeJSON(w http.ResponseWriter, obj interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	if json.NewEncoder(w).Encode(obj) != nil {
		http.Error(w, "failed to encode response", http.StatusInternalServerError)
	}
}
