package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuthenticateSuccess(t *testing.T) {
	var got Envelope
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		json.NewEncoder(w).Encode(Reply{OK: true, Metadata: map[string]string{"user": "alice"}})
	}))
	defer upstream.Close()

	g := NewGateway(upstream.URL, zerolog.Nop())
	headers := http.Header{}
	headers.Set("User-Agent", "test-agent")
	headers.Set("X-Binary", string([]byte{0xff, 0xfe}))

	reply, err := g.Authenticate(context.Background(), "room1", "tok", "1.2.3.4:5678", headers)
	require.NoError(t, err)
	assert.True(t, reply.OK)
	assert.Equal(t, "alice", reply.Metadata["user"])

	assert.Equal(t, "room1", got.Channel)
	assert.Equal(t, "tok", got.Token)
	assert.Equal(t, "1.2.3.4:5678", got.IP)
	assert.Equal(t, "test-agent", got.Headers["User-Agent"])
	_, present := got.Headers["X-Binary"]
	assert.False(t, present, "non-UTF-8 header values must be dropped")
}

func TestAuthenticateRefusal(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(Reply{OK: false, Metadata: map[string]string{}})
	}))
	defer upstream.Close()

	g := NewGateway(upstream.URL, zerolog.Nop())
	reply, err := g.Authenticate(context.Background(), "x", "y", "1.2.3.4:1", nil)
	require.NoError(t, err, "refusal is not an error")
	assert.False(t, reply.OK)
}

func TestAuthenticateTransportError(t *testing.T) {
	g := NewGateway("http://127.0.0.1:1", zerolog.Nop())
	_, err := g.Authenticate(context.Background(), "x", "y", "1.2.3.4:1", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTransport)
}

func TestAuthenticateTimeout(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(3 * time.Second)
	}))
	defer upstream.Close()

	g := NewGateway(upstream.URL, zerolog.Nop())
	start := time.Now()
	_, err := g.Authenticate(context.Background(), "x", "y", "1.2.3.4:1", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Less(t, time.Since(start), 2500*time.Millisecond, "hard 2s timeout")
}

func TestAuthenticateBadStatus(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer upstream.Close()

	g := NewGateway(upstream.URL, zerolog.Nop())
	_, err := g.Authenticate(context.Background(), "x", "y", "1.2.3.4:1", nil)
	assert.ErrorIs(t, err, ErrBadStatus)
}

func TestAuthenticateMalformedReply(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not json"))
	}))
	defer upstream.Close()

	g := NewGateway(upstream.URL, zerolog.Nop())
	_, err := g.Authenticate(context.Background(), "x", "y", "1.2.3.4:1", nil)
	assert.ErrorIs(t, err, ErrMalformedReply)
}
