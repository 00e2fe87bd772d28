package api

import (
	"net/http"

	"github.com/golang/glog"
	"github.com/serroba/docsync/internal/ws"
)

// PeersResponse is the response body for listing connected peers.
type PeersResponse struct {
	PeerID string   `json:"peerId"`
	Peers  []string `json:"peers"`
}

// handleSync handles GET /sync, upgrading to a WebSocket peer connection that
// lives until either side disconnects.
func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	conn, err := ws.Upgrade(w, r)
	if err != nil {
		glog.Warningf("[api] upgrade from %s: %v", r.RemoteAddr, err)

		return
	}

	p, err := s.repo.Connect(r.Context(), conn)
	if err != nil {
		glog.Warningf("[api] peer from %s: %v", r.RemoteAddr, err)

		return
	}

	<-p.Done()
}

// handleListPeers handles GET /peers.
func (s *Server) handleListPeers(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, PeersResponse{PeerID: s.repo.PeerID(), Peers: s.repo.Peers()})
}
