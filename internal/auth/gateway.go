// Package auth delegates the accept/refuse decision for a subscriber to an
// operator-supplied HTTP endpoint.
package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"
)

// authTimeout covers connect plus the full response, hard.
const authTimeout = 2 * time.Second

// Error kinds for the pre-upgrade auth phase. Each maps to a distinct HTTP
// status at the handler.
var (
	ErrTransport      = errors.New("auth endpoint unreachable")
	ErrTimeout        = errors.New("auth endpoint timed out")
	ErrBadStatus      = errors.New("auth endpoint returned non-2xx status")
	ErrMalformedReply = errors.New("auth endpoint reply unparseable")
)

// Envelope is the JSON body posted to the auth endpoint.
type Envelope struct {
	Channel string            `json:"channel"`
	Token   string            `json:"token"`
	IP      string            `json:"ip"`
	Headers map[string]string `json:"headers"`
}

// Reply is the expected response. OK false is an authentication refusal,
// which is distinct from any of the error kinds above.
type Reply struct {
	OK       bool              `json:"ok"`
	Metadata map[string]string `json:"metadata"`
}

// Gateway performs the delegated authentication round-trip. The underlying
// HTTP client is shared across all connections and safe for concurrent use.
type Gateway struct {
	endpoint string
	client   *http.Client
	logger   zerolog.Logger
}

func NewGateway(endpoint string, logger zerolog.Logger) *Gateway {
	return &Gateway{
		endpoint: endpoint,
		client:   &http.Client{Timeout: authTimeout},
		logger:   logger.With().Str("component", "auth_gateway").Logger(),
	}
}

// Authenticate posts {channel, token, ip, headers} to the endpoint and parses
// the reply. remoteAddr is rendered host:port as received. Inbound header
// values that are not valid UTF-8 are silently dropped; for repeated headers
// the last value wins.
//
// Results are never cached: a decision keyed on (channel, token) would leak
// across client IPs.
func (g *Gateway) Authenticate(ctx context.Context, channel, token, remoteAddr string, headers http.Header) (*Reply, error) {
	env := Envelope{
		Channel: channel,
		Token:   token,
		IP:      remoteAddr,
		Headers: forwardableHeaders(headers),
	}

	body, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("marshal auth envelope: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		if isTimeout(err) {
			g.logger.Warn().Str("endpoint", g.endpoint).Msg("Auth request timed out")
			return nil, fmt.Errorf("%w: %v", ErrTimeout, err)
		}
		g.logger.Warn().Err(err).Str("endpoint", g.endpoint).Msg("Auth request failed")
		return nil, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		g.logger.Warn().
			Int("status", resp.StatusCode).
			Str("endpoint", g.endpoint).
			Msg("Auth endpoint returned unexpected status")
		return nil, fmt.Errorf("%w: %d", ErrBadStatus, resp.StatusCode)
	}

	var reply Reply
	if err := json.NewDecoder(resp.Body).Decode(&reply); err != nil {
		g.logger.Warn().Err(err).Str("endpoint", g.endpoint).Msg("Auth reply unparseable")
		return nil, fmt.Errorf("%w: %v", ErrMalformedReply, err)
	}
	if reply.Metadata == nil {
		reply.Metadata = map[string]string{}
	}
	return &reply, nil
}

func forwardableHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for name, values := range h {
		for _, v := range values {
			if utf8.ValidString(v) {
				out[name] = v
			}
		}
	}
	return out
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
