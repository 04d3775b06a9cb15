package server

import (
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/ironstream-io/ironstream/internal/monitoring"
)

// writePump multiplexes the two outbound sources onto the socket: messages
// drained from the channel receiver, and the periodic heartbeat. Frames share
// one serial writer, so a heartbeat may be interleaved between payloads but
// never splits one.
func (s *Server) writePump(c *connection) {
	defer monitoring.RecoverPanic(s.logger, "writePump", map[string]any{"id": c.id})

	ticker := time.NewTicker(heartbeatInterval)
	defer func() {
		ticker.Stop()
		c.teardown()
	}()

	for {
		select {
		case msg, ok := <-c.recv.Ch():
			if !ok {
				// Receiver detached (admin disconnect or teardown race).
				c.sock.SetWriteDeadline(time.Now().Add(writeWait))
				wsutil.WriteServerMessage(c.sock, ws.OpClose, nil)
				return
			}
			c.sock.SetWriteDeadline(time.Now().Add(writeWait))
			if err := wsutil.WriteServerMessage(c.sock, ws.OpText, []byte(msg)); err != nil {
				s.logger.Debug().Err(err).Str("id", c.id).Msg("Failed to write message")
				return
			}
			monitoring.MessagesSent.Inc()

		case <-ticker.C:
			c.sock.SetWriteDeadline(time.Now().Add(writeWait))
			if err := wsutil.WriteServerMessage(c.sock, ws.OpText, []byte(heartbeatFrame)); err != nil {
				s.logger.Debug().Err(err).Str("id", c.id).Msg("Heartbeat write failed")
				return
			}
			monitoring.HeartbeatsSent.Inc()
		}
	}
}
