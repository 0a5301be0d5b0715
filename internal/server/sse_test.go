package server

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// readEvents scans SSE data lines off the wire until want events arrived or
// the stream ends.
func readEvents(t *testing.T, body *bufio.Scanner, want int) []StreamEvent {
	t.Helper()

	var out []StreamEvent
	for len(out) < want && body.Scan() {
		line := body.Text()
		data, ok := strings.CutPrefix(line, "data: ")
		if !ok {
			continue
		}
		var e StreamEvent
		require.NoError(t, json.Unmarshal([]byte(data), &e))
		out = append(out, e)
	}
	require.Len(t, out, want, "stream ended early")
	return out
}

func openStream(t *testing.T, ctx context.Context, url string) *bufio.Scanner {
	t.Helper()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	return bufio.NewScanner(resp.Body)
}

func TestSessionEventsValidation(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(t, http.MethodGet, "/event", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, ErrCodeInvalidRequest, errorCode(t, rec))

	rec = env.do(t, http.MethodGet, "/event?sessionID=ghost", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSessionEventStream(t *testing.T) {
	env := newTestEnv(t, nil, "All done.")
	srv := httptest.NewServer(env.server.Router())
	defer srv.Close()

	sess := env.createSession(t)
	other := env.createSession(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	stream := openStream(t, ctx, srv.URL+"/event?sessionID="+sess.ID)

	hello := readEvents(t, stream, 1)
	assert.EqualValues(t, "server.connected", hello[0].Type)

	// Activity on another session never reaches this observer.
	_, err := env.store.BeginCommand(other.ID, "noise")
	require.NoError(t, err)

	rec := env.do(t, http.MethodPost, "/session/"+sess.ID+"/command",
		SendCommandRequest{Command: "run it"})
	require.Equal(t, http.StatusAccepted, rec.Code)

	got := readEvents(t, stream, 5)
	kinds := make([]string, len(got))
	for i, e := range got {
		kinds[i] = string(e.Type)
	}
	assert.Equal(t, []string{
		"session.status",
		"message.created",
		"message.created",
		"session.status",
		"task.completed",
	}, kinds)
}

func TestGlobalEventStream(t *testing.T) {
	env := newTestEnv(t, nil)
	srv := httptest.NewServer(env.server.Router())
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	stream := openStream(t, ctx, srv.URL+"/global/event")

	hello := readEvents(t, stream, 1)
	assert.EqualValues(t, "server.connected", hello[0].Type)

	sess := env.createSession(t)

	got := readEvents(t, stream, 1)
	assert.EqualValues(t, "session.created", got[0].Type)

	rec := env.do(t, http.MethodDelete, "/session/"+sess.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	got = readEvents(t, stream, 1)
	assert.EqualValues(t, "session.deleted", got[0].Type)
}

func TestStreamClosesWithClient(t *testing.T) {
	env := newTestEnv(t, nil)
	srv := httptest.NewServer(env.server.Router())
	defer srv.Close()

	sess := env.createSession(t)

	ctx, cancel := context.WithCancel(context.Background())
	stream := openStream(t, ctx, srv.URL+"/event?sessionID="+sess.ID)
	readEvents(t, stream, 1)

	cancel()

	// The handler returns and the observer is released; nothing to assert
	// beyond the stream ending.
	deadline := time.Now().Add(2 * time.Second)
	for stream.Scan() && time.Now().Before(deadline) {
	}
}
