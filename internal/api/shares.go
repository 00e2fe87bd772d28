package api

import (
	"errors"
	"net/http"
	"slices"

	"github.com/gorilla/mux"
	"github.com/serroba/docsync/internal/share"
)

// SharesResponse is the response body for listing a document's grants.
type SharesResponse struct {
	ID    string   `json:"id"`
	Peers []string `json:"peers"`
}

// handleListShares handles GET /documents/{id}/shares.
func (s *Server) handleListShares(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}

	grants, err := s.grants.List(r.Context(), id)
	if err != nil {
		writeError(w, err)

		return
	}

	peers := make([]string, 0, len(grants))
	for _, g := range grants {
		peers = append(peers, g.PeerID)
	}

	slices.Sort(peers)

	writeJSON(w, http.StatusOK, SharesResponse{ID: id.String(), Peers: peers})
}

// handleGrantShare handles PUT /documents/{id}/shares/{peer}. The peer "*"
// shares with everyone.
func (s *Server) handleGrantShare(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}

	if err := s.grants.Grant(r.Context(), id, mux.Vars(r)["peer"]); err != nil {
		writeError(w, err)

		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// handleRevokeShare handles DELETE /documents/{id}/shares/{peer}.
func (s *Server) handleRevokeShare(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}

	if err := s.grants.Revoke(r.Context(), id, mux.Vars(r)["peer"]); err != nil {
		if errors.Is(err, share.ErrGrantNotFound) {
			http.Error(w, "grant not found", http.StatusNotFound)

			return
		}

		writeError(w, err)

		return
	}

	w.WriteHeader(http.StatusNoContent)
}
