package server

import (
	"net/http"

	"github.com/webwraith/wraith/internal/mesh"
)

func (h *Handler) handleMeshJoin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req mesh.JoinRequest
	if err := h.decode(r, &req); err != nil {
		h.jsonError(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if req.Node.NodeID == "" || req.Node.AdvertiseURL == "" {
		h.jsonError(w, "node_id and advertise_url are required", http.StatusBadRequest)
		return
	}

	coordinator := h.config.Coordinator
	peers := make([]mesh.NodeInfo, 0)
	for _, p := range coordinator.Peers() {
		peers = append(peers, p.Info)
	}
	coordinator.Observe(req.Node, &req.Load)
	h.log.Info("mesh peer joined", "peer", req.Node.NodeID, "url", req.Node.AdvertiseURL)

	h.jsonResponse(w, mesh.JoinResponse{
		Accepted: true,
		Self:     coordinator.Self(),
		Peers:    peers,
	})
}

func (h *Handler) handleMeshHeartbeat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req mesh.HeartbeatRequest
	if err := h.decode(r, &req); err != nil {
		h.jsonError(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	coordinator := h.config.Coordinator
	coordinator.Observe(req.Node, &req.Load)
	h.jsonResponse(w, mesh.HeartbeatResponse{
		OK:   true,
		Node: coordinator.Self(),
		Load: coordinator.SelfLoad(),
	})
}

func (h *Handler) handleMeshExecute(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.config.MeshDisp == nil {
		h.jsonError(w, "mesh dispatch disabled", http.StatusNotFound)
		return
	}
	var req mesh.MeshToolRequest
	if err := h.decode(r, &req); err != nil {
		h.jsonError(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if req.ToolCall.Name == "" {
		h.jsonError(w, "tool_call.name is required", http.StatusBadRequest)
		return
	}
	h.jsonResponse(w, h.config.MeshDisp.HandleRemote(r.Context(), req))
}

func (h *Handler) handleMeshLeave(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req mesh.JoinRequest
	if err := h.decode(r, &req); err != nil {
		h.jsonError(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	h.config.Coordinator.Remove(req.Node.NodeID)
	h.log.Info("mesh peer left", "peer", req.Node.NodeID)
	h.jsonResponse(w, map[string]bool{"ok": true})
}

func (h *Handler) handleMeshPeers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.config.Coordinator == nil {
		h.jsonError(w, "mesh disabled", http.StatusNotFound)
		return
	}
	h.jsonResponse(w, map[string]any{"peers": h.config.Coordinator.Peers()})
}

func (h *Handler) handleMeshStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.config.Coordinator == nil {
		h.jsonError(w, "mesh disabled", http.StatusNotFound)
		return
	}
	coordinator := h.config.Coordinator
	healthy := 0
	for _, p := range coordinator.Peers() {
		if p.Healthy {
			healthy++
		}
	}
	h.jsonResponse(w, map[string]any{
		"self":          coordinator.Self(),
		"load":          coordinator.SelfLoad(),
		"peer_count":    len(coordinator.Peers()),
		"healthy_peers": healthy,
	})
}
