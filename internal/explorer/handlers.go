package explorer

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/efebarandurmaz/kbadmin/internal/knowledge"
	"github.com/efebarandurmaz/kbadmin/internal/metasync"
	"github.com/efebarandurmaz/kbadmin/internal/reconcile"
	"github.com/efebarandurmaz/kbadmin/internal/store"
)

const maxRequestBody = 1 << 20

// collectionView is one collection with its documents, embeddings left out.
type collectionView struct {
	Name      string           `json:"name"`
	Count     int              `json:"count"`
	Documents []store.Document `json:"documents"`
}

type knowledgeBaseView struct {
	KnowledgeBase *knowledge.KnowledgeBase `json:"kb_info"`
	Collections   []collectionView         `json:"collections"`
}

// reconcileResponse is the body returned by POST /api/reconcile.
type reconcileResponse struct {
	Success bool             `json:"success"`
	Message string           `json:"message"`
	Report  *metasync.Report `json:"report,omitempty"`
}

type healthCheck struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

func newCollectionView(name string, docs []store.Document, limit int) collectionView {
	v := collectionView{Name: name, Count: len(docs)}
	if limit > 0 && limit < len(docs) {
		docs = docs[:limit]
	}
	v.Documents = make([]store.Document, len(docs))
	for i, d := range docs {
		d.Vector = nil
		v.Documents[i] = d
	}
	return v
}

// handleCollections handles GET /api/collections
func (s *Server) handleCollections(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	infos, err := store.Describe(r.Context(), s.store)
	if err != nil {
		slog.Error("Failed to list collections", "error", err)
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, infos)
}

// handleCollectionDetail handles GET /api/collections/{name}?limit=N
func (s *Server) handleCollectionDetail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	name := strings.TrimPrefix(r.URL.Path, "/api/collections/")
	if name == "" {
		respondError(w, http.StatusBadRequest, "collection name required")
		return
	}

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}

	docs, err := s.store.ListDocuments(r.Context(), name)
	if errors.Is(err, store.ErrCollectionNotFound) {
		respondError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, newCollectionView(name, docs, limit))
}

// handleKnowledgeBases handles GET /api/kb
func (s *Server) handleKnowledgeBases(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.knowledge == nil {
		respondJSON(w, http.StatusOK, []knowledge.KnowledgeBase{})
		return
	}

	kbs, err := s.knowledge.List(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if kbs == nil {
		kbs = []knowledge.KnowledgeBase{}
	}
	respondJSON(w, http.StatusOK, kbs)
}

// handleKnowledgeBaseDetail handles GET /api/kb/{id}
func (s *Server) handleKnowledgeBaseDetail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	id := strings.TrimPrefix(r.URL.Path, "/api/kb/")
	if id == "" {
		respondError(w, http.StatusBadRequest, "knowledge base id required")
		return
	}
	if s.knowledge == nil {
		respondError(w, http.StatusNotFound, "no knowledge database configured")
		return
	}

	kb, err := s.knowledge.Get(r.Context(), id)
	if errors.Is(err, knowledge.ErrNotFound) {
		respondError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	cols, err := s.store.ListCollections(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	related := knowledge.RelatedCollections(id, store.CollectionNames(cols))
	found, err := store.Lookup(r.Context(), s.store, related)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	view := knowledgeBaseView{KnowledgeBase: kb, Collections: make([]collectionView, 0, len(related))}
	for _, name := range related {
		if docs, ok := found[name]; ok {
			view.Collections = append(view.Collections, newCollectionView(name, docs, 0))
		}
	}
	respondJSON(w, http.StatusOK, view)
}

// handleReconcile handles POST /api/reconcile
func (s *Server) handleReconcile(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req metasync.Request
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	if err := dec.Decode(&req); err != nil {
		respondJSON(w, http.StatusBadRequest, reconcileResponse{Message: "invalid request body: " + err.Error()})
		return
	}

	req, err := s.service.Normalize(req)
	if err != nil {
		respondJSON(w, http.StatusBadRequest, reconcileResponse{Message: err.Error()})
		return
	}
	if req.RunID == "" {
		req.RunID = uuid.NewString()
	}

	s.runs.Create(&Run{
		ID:        req.RunID,
		Status:    StatusRunning,
		Request:   req,
		StartedAt: time.Now(),
	})
	s.hub.Broadcast(&Event{Type: "run.started", Timestamp: time.Now(), RunID: req.RunID, Data: req})

	report, err := s.service.Run(r.Context(), req)
	s.runs.Finish(req.RunID, report, err)

	status, resp := reconcileOutcome(report, err)
	eventType := "run.completed"
	if err != nil {
		eventType = "run.failed"
	}
	s.hub.Broadcast(&Event{Type: eventType, Timestamp: time.Now(), RunID: req.RunID, Data: resp})

	respondJSON(w, status, resp)
}

func reconcileOutcome(report *metasync.Report, err error) (int, reconcileResponse) {
	resp := reconcileResponse{Report: report}
	switch {
	case err == nil:
		resp.Success = true
		if report.DryRun {
			resp.Message = "Dry run: " + strconv.Itoa(report.Planned) + " documents would be updated"
		} else {
			resp.Message = "Updated " + strconv.Itoa(report.Written) + " documents"
		}
		return http.StatusOK, resp
	case errors.Is(err, metasync.ErrInvalidRequest), errors.Is(err, reconcile.ErrInvalidSpecification):
		resp.Message = err.Error()
		return http.StatusBadRequest, resp
	case errors.Is(err, store.ErrCollectionNotFound):
		resp.Message = err.Error()
		return http.StatusNotFound, resp
	case errors.Is(err, metasync.ErrCollectionLocked):
		resp.Message = err.Error()
		return http.StatusConflict, resp
	default:
		resp.Message = err.Error()
		return http.StatusInternalServerError, resp
	}
}

// handleRuns handles GET /api/runs
func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	respondJSON(w, http.StatusOK, s.runs.List())
}

// handleRunDetail handles GET /api/runs/{id}
func (s *Server) handleRunDetail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	id := strings.TrimPrefix(r.URL.Path, "/api/runs/")
	run, ok := s.runs.Get(id)
	if !ok {
		respondError(w, http.StatusNotFound, "run not found")
		return
	}
	respondJSON(w, http.StatusOK, run)
}

// handleSSE handles GET /api/events (Server-Sent Events)
func (s *Server) handleSSE(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	client, err := NewClient(w)
	if err != nil {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	s.hub.Register(client)
	defer s.hub.Unregister(client)

	data, _ := json.Marshal(&Event{Type: "connected", Timestamp: time.Now()})
	client.send(data)

	ticker := time.NewTicker(s.config.KeepAlive)
	defer ticker.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			client.ping()
		}
	}
}

// handleHealth handles GET /api/health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	checks := map[string]healthCheck{}
	status := "ok"

	if _, err := s.store.ListCollections(r.Context()); err != nil {
		checks["store"] = healthCheck{Status: "error", Error: err.Error()}
		status = "degraded"
	} else {
		checks["store"] = healthCheck{Status: "ok"}
	}

	if s.knowledge != nil {
		if err := s.knowledge.Ping(r.Context()); err != nil {
			checks["knowledge"] = healthCheck{Status: "error", Error: err.Error()}
			status = "degraded"
		} else {
			checks["knowledge"] = healthCheck{Status: "ok"}
		}
	}

	code := http.StatusOK
	if status != "ok" {
		code = http.StatusServiceUnavailable
	}
	respondJSON(w, code, map[string]any{
		"status":      status,
		"time":        time.Now().Format(time.RFC3339),
		"checks":      checks,
		"runs":        s.runs.Len(),
		"sse_clients": s.hub.ClientCount(),
	})
}
