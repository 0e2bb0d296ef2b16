package cli

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func captureOutput(f func()) string {
	old := os.Stdout
	r, w, _ := os.Pipe()
	os.Stdout = w

	f()

	w.Close()
	os.Stdout = old

	var buf bytes.Buffer
	_, _ = io.Copy(&buf, r)
	return buf.String()
}

func TestRunStatus_PrintsSnapshot(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/status", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"connected": true,
			"port": 30200,
			"session_id": "abc-123",
			"session_state": "commanding_active",
			"cycles": 42,
			"publish_skips": 1,
			"command_drops": 3
		}`))
	}))
	defer ts.Close()

	oldAddr := statusAddr
	statusAddr = ts.URL
	defer func() { statusAddr = oldAddr }()

	var err error
	out := captureOutput(func() {
		err = runStatus(statusCmd, nil)
	})
	require.NoError(t, err)

	assert.Contains(t, out, "Connected:      true")
	assert.Contains(t, out, "Port:           30200")
	assert.Contains(t, out, "Session:        abc-123")
	assert.Contains(t, out, "Session state:  commanding_active")
	assert.Contains(t, out, "Cycles:         42")
	assert.Contains(t, out, "Publish skips:  1")
	assert.Contains(t, out, "Command drops:  3")
}

func TestRunStatus_DaemonUnreachable(t *testing.T) {
	oldAddr := statusAddr
	statusAddr = "http://127.0.0.1:1"
	defer func() { statusAddr = oldAddr }()

	err := runStatus(statusCmd, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to reach daemon")
}

func TestRunStatus_ErrorStatus(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer ts.Close()

	oldAddr := statusAddr
	statusAddr = ts.URL
	defer func() { statusAddr = oldAddr }()

	err := runStatus(statusCmd, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "daemon returned")
}
