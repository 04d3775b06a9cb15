package server

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/json"
	"io"
	"mime"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/ironstream-io/ironstream/internal/hub"
	"github.com/ironstream-io/ironstream/internal/monitoring"
	"github.com/ironstream-io/ironstream/internal/registry"
)

// adminAuthorized compares the Authorization header against the configured
// admin token in constant time. Hashing first keeps the comparison
// constant-time regardless of length mismatch.
func (s *Server) adminAuthorized(r *http.Request) bool {
	got := sha256.Sum256([]byte(r.Header.Get("Authorization")))
	want := sha256.Sum256([]byte(s.config.AdminToken))
	return subtle.ConstantTimeCompare(got[:], want[:]) == 1
}

type broadcastResult struct {
	SentTo []string `json:"sent_to"`
}

// handleBroadcast is the publish path: resolve the channel, serialise the
// payload to its canonical JSON form, report the advisory fan-out targets,
// and enqueue the message.
func (s *Server) handleBroadcast(w http.ResponseWriter, r *http.Request) {
	if !s.adminAuthorized(r) {
		writeError(w, http.StatusUnauthorized, codeUnauthorized)
		return
	}

	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil || mediaType != "application/json" {
		writeError(w, http.StatusUnsupportedMediaType, codeUnsupportedMediaType)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest)
		return
	}
	var payload any
	if err := json.Unmarshal(body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest)
		return
	}
	// Subscribers receive the canonical serialisation, not the raw body.
	canonical, err := json.Marshal(payload)
	if err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest)
		return
	}

	channel := mux.Vars(r)["channel"]

	// Snapshot at call time; may race concurrent disconnects. Advisory, not
	// a delivery receipt.
	sentTo := s.clients.IDsOnChannel(channel)

	receivers, dropped := s.channels.Publish(channel, string(canonical))
	monitoring.MessagesPublished.Inc()
	if dropped > 0 {
		monitoring.MessagesDropped.Add(float64(dropped))
	}
	monitoring.ChannelsCurrent.Set(float64(s.channels.Len()))

	s.logger.Debug().
		Str("channel", channel).
		Int("receivers", receivers).
		Int("dropped", dropped).
		Msg("Message published")

	writeJSON(w, http.StatusOK, broadcastResult{SentTo: sentTo})
}

type statsResponse struct {
	Channels []hub.ChannelStats     `json:"channels"`
	Clients  []registry.ClientStats `json:"clients"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if !s.adminAuthorized(r) {
		writeError(w, http.StatusUnauthorized, codeUnauthorized)
		return
	}
	// Both snapshots release their locks before serialisation starts.
	writeJSON(w, http.StatusOK, statsResponse{
		Channels: s.channels.Stats(),
		Clients:  s.clients.Snapshot(),
	})
}

type disconnectRequest struct {
	ID      string `json:"id"`
	Channel string `json:"channel"`
}

// handleDisconnect detaches one channel from a connection record. The worker
// has no back reference to chase: it notices removal indirectly when its
// receiver closes or the peer goes away.
func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	if !s.adminAuthorized(r) {
		writeError(w, http.StatusUnauthorized, codeUnauthorized)
		return
	}

	var req disconnectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ID == "" || req.Channel == "" {
		writeError(w, http.StatusBadRequest, codeBadRequest)
		return
	}

	if err := s.clients.Detach(req.ID, req.Channel); err != nil {
		writeError(w, http.StatusNotFound, codeNotFound)
		return
	}

	// Close the receiver of any live worker on that channel so its write
	// pump exits promptly instead of waiting for the next peer event.
	s.conns.Range(func(key, _ any) bool {
		if c, ok := key.(*connection); ok && c.id == req.ID && c.channel == req.Channel {
			c.recv.Close()
		}
		return true
	})

	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.probe.Snapshot(s.clients.Len(), s.channels.Len()))
}
