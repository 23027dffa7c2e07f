// Package apitest provides an in-memory fake of the Open Agentic Framework
// HTTP API for tests.
package apitest

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"

	"github.com/go-chi/chi/v5"

	"github.com/rflorenc/oafctl/internal/models"
)

// Call is one request received by the fake.
type Call struct {
	Method string
	Path   string
}

// Server is a fake framework backed by ordered in-memory collections.
type Server struct {
	*httptest.Server

	mu          sync.Mutex
	collections map[string][]models.Resource // list path -> items
	idFields    map[string]string            // list path -> identifying field
	rawLists    map[string]string            // list path -> body override
	failDeletes map[string]int               // item path -> failures left, -1 = always
	healthFails int                          // health failures left, -1 = always
	calls       []Call
	executions  map[string][]models.ExecuteRequest
	memClears   int
}

// New starts a fake framework. Call Close when done.
func New() *Server {
	s := &Server{
		collections: map[string][]models.Resource{
			"/agents":    {},
			"/workflows": {},
			"/schedule":  {},
		},
		idFields: map[string]string{
			"/agents":    "name",
			"/workflows": "name",
			"/schedule":  "id",
		},
		rawLists:    map[string]string{},
		failDeletes: map[string]int{},
		executions:  map[string][]models.ExecuteRequest{},
	}
	s.Server = httptest.NewServer(s.router())
	return s
}

func (s *Server) router() http.Handler {
	r := chi.NewRouter()
	r.Use(s.record)

	r.Get("/health", s.health)
	for _, path := range []string{"/agents", "/workflows", "/schedule"} {
		r.Get(path, func(w http.ResponseWriter, req *http.Request) { s.list(w, path) })
		r.Delete(path+"/{id}", func(w http.ResponseWriter, req *http.Request) {
			s.deleteItem(w, path, chi.URLParam(req, "id"))
		})
	}
	r.Post("/agents", func(w http.ResponseWriter, req *http.Request) { s.create(w, req, "/agents") })
	r.Post("/workflows", func(w http.ResponseWriter, req *http.Request) { s.create(w, req, "/workflows") })
	r.Post("/workflows/{name}/execute", s.execute)
	r.Delete("/memory/clear-all", s.clearMemory)
	return r
}

func (s *Server) record(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.calls = append(s.calls, Call{Method: r.Method, Path: r.URL.EscapedPath()})
		s.mu.Unlock()
		next.ServeHTTP(w, r)
	})
}

// Seed appends resources to the collection at listPath.
func (s *Server) Seed(listPath string, items ...models.Resource) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.collections[listPath] = append(s.collections[listPath], items...)
}

// SeedNames appends {"name": n} entries to listPath.
func (s *Server) SeedNames(listPath string, names ...string) {
	for _, n := range names {
		s.Seed(listPath, models.Resource{"name": n})
	}
}

// SeedIDs appends {"id": id} entries to listPath.
func (s *Server) SeedIDs(listPath string, ids ...string) {
	for _, id := range ids {
		s.Seed(listPath, models.Resource{"id": id})
	}
}

// SetListBody makes GET listPath return body verbatim.
func (s *Server) SetListBody(listPath, body string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rawLists[listPath] = body
}

// FailDelete makes DELETE itemPath answer 500 for the next n calls (n < 0:
// forever). The item is left in place.
func (s *Server) FailDelete(itemPath string, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failDeletes[itemPath] = n
}

// FailHealth makes /health answer 503 for the next n calls (n < 0: forever).
func (s *Server) FailHealth(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.healthFails = n
}

// Calls returns a copy of every request received so far.
func (s *Server) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Call, len(s.calls))
	copy(out, s.calls)
	return out
}

// CountCalls counts received requests matching method and path.
func (s *Server) CountCalls(method, path string) int {
	n := 0
	for _, c := range s.Calls() {
		if c.Method == method && c.Path == path {
			n++
		}
	}
	return n
}

// CountMethod counts received requests with the given method.
func (s *Server) CountMethod(method string) int {
	n := 0
	for _, c := range s.Calls() {
		if c.Method == method {
			n++
		}
	}
	return n
}

// Identifiers returns the identifiers currently stored at listPath.
func (s *Server) Identifiers(listPath string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	field := s.idFields[listPath]
	var ids []string
	for _, item := range s.collections[listPath] {
		if v, ok := item[field].(string); ok {
			ids = append(ids, v)
		}
	}
	return ids
}

// MemoryClears returns how many times the memory store was cleared.
func (s *Server) MemoryClears() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.memClears
}

// Executions returns the execute requests received for a workflow.
func (s *Server) Executions(workflow string) []models.ExecuteRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.ExecuteRequest(nil), s.executions[workflow]...)
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	fail := s.healthFails != 0
	if s.healthFails > 0 {
		s.healthFails--
	}
	s.mu.Unlock()
	if fail {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "starting"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy", "version": "test"})
}

func (s *Server) list(w http.ResponseWriter, path string) {
	s.mu.Lock()
	raw, ok := s.rawLists[path]
	items := append([]models.Resource{}, s.collections[path]...)
	s.mu.Unlock()
	if ok {
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, raw)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

func (s *Server) deleteItem(w http.ResponseWriter, listPath, id string) {
	itemPath := listPath + "/" + id

	s.mu.Lock()
	defer s.mu.Unlock()

	if n, ok := s.failDeletes[itemPath]; ok && n != 0 {
		if n > 0 {
			s.failDeletes[itemPath] = n - 1
		}
		writeJSON(w, http.StatusInternalServerError, map[string]string{"detail": "delete failed"})
		return
	}

	field := s.idFields[listPath]
	items := s.collections[listPath]
	for i, item := range items {
		if v, _ := item[field].(string); v == id {
			s.collections[listPath] = append(items[:i:i], items[i+1:]...)
			writeJSON(w, http.StatusOK, map[string]string{"message": "deleted " + id})
			return
		}
	}
	writeJSON(w, http.StatusNotFound, map[string]string{"detail": id + " not found"})
}

func (s *Server) create(w http.ResponseWriter, r *http.Request, listPath string) {
	var res models.Resource
	if err := json.NewDecoder(r.Body).Decode(&res); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": err.Error()})
		return
	}
	name, _ := res["name"].(string)
	if name == "" {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"detail": "name is required"})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, item := range s.collections[listPath] {
		if item["name"] == name {
			writeJSON(w, http.StatusConflict, map[string]string{"detail": name + " already exists"})
			return
		}
	}
	s.collections[listPath] = append(s.collections[listPath], res)
	writeJSON(w, http.StatusCreated, res)
}

func (s *Server) execute(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	var req models.ExecuteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": err.Error()})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	found := false
	for _, item := range s.collections["/workflows"] {
		if item["name"] == name {
			found = true
			break
		}
	}
	if !found {
		writeJSON(w, http.StatusNotFound, map[string]string{"detail": "workflow " + name + " not found"})
		return
	}
	s.executions[name] = append(s.executions[name], req)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"workflow": name,
		"status":   "completed",
		"context":  req.Context,
	})
}

func (s *Server) clearMemory(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.memClears++
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]string{"message": "memory cleared"})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
