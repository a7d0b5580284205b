package web

import (
	"encoding/json"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"
)

// StatusResponse is the /api/status body.
type StatusResponse struct {
	Status    string `json:"status"`
	Endpoint  string `json:"endpoint,omitempty"`
	Role      string `json:"role,omitempty"`
	Attempts  int    `json:"attempts"`
	LastError string `json:"last_error,omitempty"`
	Clients   int    `json:"clients"`
}

// PointResponse is one entry of the /api/points body.
type PointResponse struct {
	ID        string      `json:"id"`
	Name      string      `json:"name,omitempty"`
	NodeID    string      `json:"node_id,omitempty"`
	DataType  string      `json:"data_type"`
	Unit      string      `json:"unit,omitempty"`
	Writable  bool        `json:"writable"`
	Value     interface{} `json:"value,omitempty"`
	Quality   string      `json:"quality,omitempty"`
	Timestamp *time.Time  `json:"timestamp,omitempty"`
}

func (s *Server) writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	s.broadcaster.HandleUpgrade(w, r)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	hs := s.bridge.Status()
	s.writeJSON(w, StatusResponse{
		Status:    hs.Status,
		Endpoint:  hs.Endpoint,
		Role:      hs.Role,
		Attempts:  hs.Attempts,
		LastError: hs.LastError,
		Clients:   s.broadcaster.ClientCount(),
	})
}

func (s *Server) pointResponse(id string) (PointResponse, bool) {
	p, ok := s.cache.Point(id)
	if !ok {
		return PointResponse{}, false
	}

	resp := PointResponse{
		ID:       p.ID,
		Name:     p.Name,
		NodeID:   p.NodeID,
		DataType: string(p.DataType),
		Unit:     p.Unit,
		Writable: p.Writable,
	}
	if entry, ok := s.cache.Get(id); ok {
		resp.Value = entry.Value
		resp.Quality = string(entry.Quality)
		ts := entry.Timestamp
		resp.Timestamp = &ts
	}
	return resp, true
}

func (s *Server) handlePoints(w http.ResponseWriter, r *http.Request) {
	ids := s.cache.PointIDs()
	response := make([]PointResponse, 0, len(ids))
	for _, id := range ids {
		if resp, ok := s.pointResponse(id); ok {
			response = append(response, resp)
		}
	}
	s.writeJSON(w, response)
}

func (s *Server) handleSinglePoint(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "point")
	id, _ = url.PathUnescape(id)

	resp, ok := s.pointResponse(id)
	if !ok {
		s.writeError(w, http.StatusNotFound, "point not found")
		return
	}
	s.writeJSON(w, resp)
}

func (s *Server) handleReconnect(w http.ResponseWriter, r *http.Request) {
	s.bridge.RequestReconnect()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]string{"status": "reconnect_requested"})
}

// endpointRequest is the /api/endpoint body.
type endpointRequest struct {
	Address string `json:"address"`
}

func (s *Server) handleEndpoint(w http.ResponseWriter, r *http.Request) {
	var req endpointRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Address == "" {
		s.writeError(w, http.StatusBadRequest, "address is required")
		return
	}

	s.bridge.SetPrimaryEndpoint(req.Address)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]string{
		"status":  "endpoint_updated",
		"address": req.Address,
	})
}
