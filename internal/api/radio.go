package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/radiolink/internal/bridge"
	"github.com/nerrad567/radiolink/internal/radio"
)

// healthResponse is the body of GET /health.
type healthResponse struct {
	Status        string             `json:"status"`
	Version       string             `json:"version"`
	UptimeSeconds int64              `json:"uptime_seconds"`
	Module        *bridge.ModuleInfo `json:"module"`
	Statistics    *bridge.Statistics `json:"statistics"`
	Peers         int                `json:"peers"`
	WSClients     int                `json:"ws_clients"`
}

// peersResponse is the body of GET /peers and POST /discover.
type peersResponse struct {
	Peers []radio.PeerInfo `json:"peers"`
	Count int              `json:"count"`
}

// discoverRequest is the body of POST /discover.
type discoverRequest struct {
	NodeID    string `json:"node_id,omitempty"`
	TimeoutMS int    `json:"timeout_ms,omitempty"`
}

// sendResponse is the body of a successful POST /send.
type sendResponse struct {
	Status string                 `json:"status"`
	Report *bridge.TransmitReport `json:"report,omitempty"`
}

// handleHealth reports the module state. It answers 200 whether or not the
// module is open so monitoring can read the details.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	open := s.radio.IsOpen()
	status := "ok"
	if !open {
		status = "degraded"
	}

	writeJSON(w, http.StatusOK, healthResponse{
		Status:        status,
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Module:        bridge.NewModuleInfo(open, s.radio.Info()),
		Statistics:    bridge.NewStatistics(s.radio.Stats()),
		Peers:         s.registry.NumberOfDevices(),
		WSClients:     s.hub.ClientCount(),
	})
}

func (s *Server) handleListPeers(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, newPeersResponse(s.registry.Devices()))
}

func (s *Server) handleGetPeer(w http.ResponseWriter, r *http.Request) {
	addr, err := radio.ParseAddress64(chi.URLParam(r, "addr64"))
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	rd, ok := s.registry.DeviceBy64(addr)
	if !ok {
		writeNotFound(w, "peer "+addr.String()+" not found")
		return
	}
	writeJSON(w, http.StatusOK, rd.Info())
}

func (s *Server) handleClearPeers(w http.ResponseWriter, r *http.Request) {
	n := s.registry.NumberOfDevices()
	s.registry.Clear()
	s.logger.Info("peer registry cleared",
		"peers", n,
		"subject", r.Context().Value(ctxKeySubject),
	)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListSightings(w http.ResponseWriter, r *http.Request) {
	if s.sightings == nil {
		writeNotFound(w, "sighting recorder not enabled")
		return
	}

	list, err := s.sightings.Sightings(r.Context())
	if err != nil {
		s.logger.Error("listing sightings failed", "error", err)
		writeInternalError(w, "failed to list sightings")
		return
	}
	if list == nil {
		list = []bridge.Sighting{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"sightings": list, "count": len(list)})
}

// handleDiscover runs a node discovery scan and returns the peers found.
// The scan blocks the request for up to timeout_ms (or the module default).
func (s *Server) handleDiscover(w http.ResponseWriter, r *http.Request) {
	var req discoverRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeBadRequest(w, "invalid JSON body")
			return
		}
	}
	timeout, err := bridge.CommandTimeout(req.TimeoutMS)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	var found []*radio.RemoteDevice
	if req.NodeID != "" {
		found, err = s.registry.DiscoverAllDevicesByID(r.Context(), req.NodeID, timeout)
	} else {
		found, err = s.registry.DiscoverDevices(r.Context(), timeout)
	}
	if err != nil && !(errors.Is(err, radio.ErrTimeout) && len(found) > 0) {
		writeRadioError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newPeersResponse(found))
}

// handleSend transmits a payload. With sync set it waits for the module's
// transmit report; otherwise it answers 202 once the frame is written.
func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	var cmd bridge.SendCommand
	if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	dst, err := cmd.Destination()
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	timeout, err := bridge.CommandTimeout(cmd.TimeoutMS)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	opts := radio.SendOptions{Timeout: timeout}

	if !cmd.Sync {
		if err := s.radio.SendAsync(dst, cmd.Data, opts); err != nil {
			writeRadioError(w, err)
			return
		}
		writeJSON(w, http.StatusAccepted, sendResponse{Status: string(bridge.StatusAccepted)})
		return
	}

	st, err := s.radio.Send(r.Context(), dst, cmd.Data, opts)
	if err != nil {
		writeRadioError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sendResponse{
		Status: string(bridge.StatusAccepted),
		Report: &bridge.TransmitReport{
			FrameID:   st.FrameID,
			Status:    st.Status,
			Retries:   st.Retries,
			Discovery: st.Discovery,
			Address16: st.Addr16,
		},
	})
}

func newPeersResponse(list []*radio.RemoteDevice) peersResponse {
	peers := make([]radio.PeerInfo, 0, len(list))
	for _, rd := range list {
		peers = append(peers, rd.Info())
	}
	return peersResponse{Peers: peers, Count: len(peers)}
}
