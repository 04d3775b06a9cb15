package server

import (
	"errors"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gobwas/ws"

	"github.com/ironstream-io/ironstream/internal/auth"
	"github.com/ironstream-io/ironstream/internal/hub"
	"github.com/ironstream-io/ironstream/internal/ident"
	"github.com/ironstream-io/ironstream/internal/monitoring"
	"github.com/ironstream-io/ironstream/internal/registry"
)

// connection is one live subscriber after a successful upgrade. The worker
// knows the registry record only by id; the registry owns it and may remove
// it underneath us (admin detach), which teardown tolerates.
type connection struct {
	id      string
	channel string
	sock    net.Conn
	recv    *hub.Receiver
	srv     *Server

	closeOnce sync.Once
}

// teardown is called by whichever pump exits first. Closing the socket
// unblocks the sibling pump; registry removal is idempotent.
func (c *connection) teardown() {
	c.closeOnce.Do(func() {
		c.sock.Close()
		c.recv.Close()
		c.srv.clients.Remove(c.id)
		c.srv.conns.Delete(c)
		atomic.AddInt64(&c.srv.connsCurrent, -1)
		monitoring.ConnectionsCurrent.Dec()
		c.srv.logger.Info().
			Str("id", c.id).
			Str("channel", c.channel).
			Msg("Client disconnected")
	})
}

// handleWebSocket is the full pre-upgrade pipeline: query validation, rate
// limiting, delegated auth, upgrade, then handing the socket to the pumps.
// Every failure before the upgrade surfaces as an HTTP error response; after
// the upgrade the socket is simply torn down.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if atomic.LoadInt32(&s.shuttingDown) == 1 {
		writeError(w, http.StatusServiceUnavailable, codeServiceUnavailable)
		return
	}

	query := r.URL.Query()
	channel := query.Get("channel")
	token := query.Get("token")
	if channel == "" || token == "" {
		writeError(w, http.StatusBadRequest, codeBadRequest)
		return
	}

	if !s.guard.Allow() {
		monitoring.RateLimited.Inc()
		writeError(w, http.StatusTooManyRequests, codeTooManyRequests)
		return
	}

	remoteHost := hostOf(r.RemoteAddr)
	if !s.limiter.Admit(remoteHost) {
		s.logger.Warn().Str("remote", remoteHost).Msg("Upgrade rejected: rate limit exceeded")
		monitoring.RateLimited.Inc()
		writeError(w, http.StatusTooManyRequests, codeTooManyRequests)
		return
	}

	reply, err := s.gateway.Authenticate(r.Context(), channel, token, r.RemoteAddr, r.Header)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrMalformedReply):
			monitoring.AuthFailures.WithLabelValues("malformed").Inc()
			writeError(w, http.StatusInternalServerError, codeInternalServerError)
		default:
			monitoring.AuthFailures.WithLabelValues("unavailable").Inc()
			writeError(w, http.StatusServiceUnavailable, codeServiceUnavailable)
		}
		return
	}
	if !reply.OK {
		s.logger.Info().
			Str("remote", r.RemoteAddr).
			Str("channel", channel).
			Msg("Authentication refused by upstream")
		monitoring.AuthFailures.WithLabelValues("refused").Inc()
		writeError(w, http.StatusUnauthorized, codeUnauthorized)
		return
	}

	sock, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		// gobwas already wrote the failure response.
		s.logger.Debug().Err(err).Str("remote", r.RemoteAddr).Msg("WebSocket upgrade failed")
		return
	}

	// Subscribe before registering so the record never points at a channel
	// the client is not attached to.
	recv := s.channels.Subscribe(channel)
	id := ident.New(ident.DefaultLength)

	rec := &registry.Record{
		ID:          id,
		RemoteAddr:  r.RemoteAddr,
		UserAgent:   r.Header.Get("User-Agent"),
		Channels:    map[string]struct{}{channel: {}},
		ConnectedAt: time.Now().UTC(),
		Metadata:    reply.Metadata,
	}
	if err := s.clients.Register(rec); err != nil {
		// Duplicate id inside a ~40-bit space means the RNG is broken.
		// Continuing would corrupt the registry's identity invariant.
		s.logger.Fatal().Err(err).Str("id", id).Msg("Connection registry invariant violated")
		return
	}

	c := &connection{
		id:      id,
		channel: channel,
		sock:    sock,
		recv:    recv,
		srv:     s,
	}
	s.conns.Store(c, struct{}{})
	atomic.AddInt64(&s.connsCurrent, 1)
	monitoring.ConnectionsTotal.Inc()
	monitoring.ConnectionsCurrent.Inc()
	monitoring.ChannelsCurrent.Set(float64(s.channels.Len()))

	s.logger.Info().
		Str("id", id).
		Str("channel", channel).
		Str("remote", r.RemoteAddr).
		Msg("Client connected")

	go s.writePump(c)
	go s.readPump(c)
}

// hostOf strips the port so the rate window covers all connections from one
// source address.
func hostOf(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}
