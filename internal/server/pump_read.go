package server

import (
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/ironstream-io/ironstream/internal/monitoring"
)

// readPump drains inbound frames and discards their payloads; clients have no
// upstream channel in this protocol. A close frame or read error ends the
// session. There is deliberately no read deadline: the heartbeat write is the
// only liveness check.
func (s *Server) readPump(c *connection) {
	defer monitoring.RecoverPanic(s.logger, "readPump", map[string]any{"id": c.id})
	defer c.teardown()

	// The HTTP server may have armed a read deadline before the hijack.
	c.sock.SetReadDeadline(time.Time{})

	for {
		_, op, err := wsutil.ReadClientData(c.sock)
		if err != nil {
			s.logger.Debug().Err(err).Str("id", c.id).Msg("Read loop ended")
			return
		}
		if op == ws.OpClose {
			return
		}
		// Text, binary, pong: discarded.
	}
}
