package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/automerge/automerge-go"
	"github.com/golang/glog"
	"github.com/gorilla/mux"
	"github.com/serroba/docsync/internal/core"
	"github.com/serroba/docsync/internal/docid"
	"github.com/serroba/docsync/internal/repo"
)

// CreateDocumentResponse is the response body for creating a document.
type CreateDocumentResponse struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// GetDocumentResponse is the response body for getting a document.
type GetDocumentResponse struct {
	ID    string         `json:"id"`
	URL   string         `json:"url"`
	State string         `json:"state"`
	Heads []string       `json:"heads"`
	Peers []string       `json:"peers"`
	Value map[string]any `json:"value"`
}

// IncrementRequest is the request body for incrementing a counter.
type IncrementRequest struct {
	By int64 `json:"by"`
}

// IncrementResponse reports a counter's value after the increment.
type IncrementResponse struct {
	Key   string `json:"key"`
	Value int64  `json:"value"`
}

// handleCreateDocument handles POST /documents. An optional JSON object body
// sets the initial top-level fields.
func (s *Server) handleCreateDocument(w http.ResponseWriter, r *http.Request) {
	fields, ok := decodeFields(w, r, true)
	if !ok {
		return
	}

	h, err := s.repo.Create(r.Context())
	if err != nil {
		writeError(w, err)

		return
	}

	if len(fields) > 0 {
		if err := h.Change(r.Context(), setFields(fields)); err != nil {
			writeError(w, err)

			return
		}
	}

	writeJSON(w, http.StatusCreated, CreateDocumentResponse{ID: h.ID().String(), URL: h.URL()})
}

// handleGetDocument handles GET /documents/{id}.
func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	h, ok := s.find(w, r)
	if !ok {
		return
	}

	writeJSON(w, http.StatusOK, describe(h))
}

// handlePatchDocument handles PATCH /documents/{id}. Null values delete fields.
func (s *Server) handlePatchDocument(w http.ResponseWriter, r *http.Request) {
	fields, ok := decodeFields(w, r, false)
	if !ok {
		return
	}

	h, ok := s.find(w, r)
	if !ok {
		return
	}

	if err := h.Change(r.Context(), setFields(fields)); err != nil {
		writeError(w, err)

		return
	}

	writeJSON(w, http.StatusOK, describe(h))
}

// handleIncrement handles POST /documents/{id}/counters/{key}.
func (s *Server) handleIncrement(w http.ResponseWriter, r *http.Request) {
	req := IncrementRequest{By: 1}

	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)

			return
		}
	}

	h, ok := s.find(w, r)
	if !ok {
		return
	}

	key := mux.Vars(r)["key"]

	var value int64

	err := h.Change(r.Context(), func(d *automerge.Doc) error {
		counter := d.Path(key).Counter()
		if err := counter.Inc(req.By); err != nil {
			return err
		}

		v, err := counter.Get()
		value = v

		return err
	})
	if err != nil {
		writeError(w, err)

		return
	}

	writeJSON(w, http.StatusOK, IncrementResponse{Key: key, Value: value})
}

// handleDeleteDocument handles DELETE /documents/{id}.
// ConflictsResponse lists the value of a key as each head of the document sees it.
type ConflictsResponse struct {
	Key    string   `json:"key"`
	Heads  []string `json:"heads"`
	Values []any    `json:"values"`
}

func (s *Server) handleConflicts(w http.ResponseWriter, r *http.Request) {
	h, ok := s.find(w, r)
	if !ok {
		return
	}

	key := mux.Vars(r)["key"]

	heads, values, err := h.Conflicts(key)
	if err != nil {
		writeError(w, err)

		return
	}

	resp := ConflictsResponse{Key: key, Heads: make([]string, 0, len(heads)), Values: values}
	for _, head := range heads {
		resp.Heads = append(resp.Heads, head.String())
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}

	if err := s.repo.Delete(r.Context(), id); err != nil {
		writeError(w, err)

		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// find resolves the {id} path variable to a ready handle, writing an error
// response when it cannot.
func (s *Server) find(w http.ResponseWriter, r *http.Request) (*repo.DocHandle, bool) {
	id, ok := parseID(w, r)
	if !ok {
		return nil, false
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.findTimeout)
	defer cancel()

	h, err := s.repo.Find(ctx, id)
	if err != nil {
		writeError(w, err)

		return nil, false
	}

	return h, true
}

func parseID(w http.ResponseWriter, r *http.Request) (docid.ID, bool) {
	id, err := docid.Parse(mux.Vars(r)["id"])
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)

		return "", false
	}

	return id, true
}

func decodeFields(w http.ResponseWriter, r *http.Request, optional bool) (map[string]any, bool) {
	if optional && r.ContentLength == 0 {
		return nil, true
	}

	var fields map[string]any
	if err := json.NewDecoder(r.Body).Decode(&fields); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)

		return nil, false
	}

	return fields, true
}

func setFields(fields map[string]any) core.Mutator {
	return func(d *automerge.Doc) error {
		for key, v := range fields {
			if v == nil {
				if err := d.RootMap().Delete(key); err != nil {
					return err
				}

				continue
			}

			if err := d.Path(key).Set(v); err != nil {
				return err
			}
		}

		return nil
	}
}

func describe(h *repo.DocHandle) GetDocumentResponse {
	snap := h.Doc()

	heads := make([]string, len(snap.Heads))
	for i, head := range snap.Heads {
		heads[i] = head.String()
	}

	return GetDocumentResponse{
		ID:    h.ID().String(),
		URL:   h.URL(),
		State: h.State().String(),
		Heads: heads,
		Peers: h.Peers(),
		Value: snap.Value,
	}
}

// writeError maps repo errors to status codes.
func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, docid.ErrInvalid):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, repo.ErrUnavailable), errors.Is(err, repo.ErrDeleted):
		http.Error(w, "document not found", http.StatusNotFound)
	case errors.Is(err, context.DeadlineExceeded):
		http.Error(w, "document is still loading", http.StatusGatewayTimeout)
	case errors.Is(err, repo.ErrNotReady):
		http.Error(w, "document is not ready", http.StatusConflict)
	case errors.Is(err, repo.ErrClosed):
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
	default:
		glog.Errorf("[api] %v", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		glog.Warningf("[api] failed to encode response: %v", err)
	}
}
