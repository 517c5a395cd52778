package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/flasharb/internal/server/middleware"
	"github.com/alanyoungcy/flasharb/internal/store/memory"
)

const (
	testKey     = "0xac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
	testAddress = "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"
)

// recorded is what the fake server saw.
type recorded struct {
	method, path, caller string
	body                 map[string]any
}

func fakeServer(t *testing.T, status int, reply string) (*httptest.Server, *recorded) {
	t.Helper()
	rec := &recorded{}
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec.method, rec.path = r.Method, r.URL.Path
		if addr, ok := middleware.Caller(r.Context()); ok {
			rec.caller = addr.Hex()
		}
		raw, _ := io.ReadAll(r.Body)
		if len(raw) > 0 {
			_ = json.Unmarshal(raw, &rec.body)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, reply)
	})
	srv := httptest.NewServer(middleware.OperatorSignature(5*time.Minute, memory.NewReplayGuard(), nil)(h))
	t.Cleanup(srv.Close)
	return srv, rec
}

func TestExecuteIsSigned(t *testing.T) {
	srv, rec := fakeServer(t, http.StatusOK, `{"status":"no_trade"}`)
	var out bytes.Buffer

	err := run(context.Background(), []string{"execute", "-server", srv.URL, "-key", testKey, "-max-input", "500"}, &out)
	require.NoError(t, err)

	assert.Equal(t, http.MethodPost, rec.method)
	assert.Equal(t, "/api/arbitrage/execute", rec.path)
	assert.Equal(t, testAddress, rec.caller)
	assert.Equal(t, "500", rec.body["max_input"])
	assert.Contains(t, out.String(), `"status": "no_trade"`)
}

func TestExecuteNeedsKey(t *testing.T) {
	t.Setenv(envKey, "")
	srv, _ := fakeServer(t, http.StatusOK, `{}`)
	err := run(context.Background(), []string{"execute", "-server", srv.URL}, io.Discard)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "needs an operator key")
}

func TestConfigureBuildsPartialUpdate(t *testing.T) {
	srv, rec := fakeServer(t, http.StatusOK, `{"ready":true}`)
	err := run(context.Background(), []string{
		"configure", "-server", srv.URL, "-key", testKey,
		"-source", "aqueduct", "-reverse=true", "-min-profit1", "10",
	}, io.Discard)
	require.NoError(t, err)

	assert.Equal(t, http.MethodPut, rec.method)
	assert.Equal(t, "/api/config", rec.path)
	assert.Equal(t, map[string]any{
		"source_venue": "aqueduct",
		"reverse":      true,
		"min_profit1":  "10",
	}, rec.body)
}

func TestConfigureRejectsBadReverse(t *testing.T) {
	err := run(context.Background(), []string{"configure", "-key", testKey, "-reverse", "maybe"}, io.Discard)
	assert.Error(t, err)
}

func TestQueryIsUnsigned(t *testing.T) {
	t.Setenv(envKey, "")
	srv, rec := fakeServer(t, http.StatusOK, `{"profitable":false}`)
	err := run(context.Background(), []string{"quote", "-server", srv.URL, "-max-input", "42"}, io.Discard)
	require.NoError(t, err)
	assert.Equal(t, "/api/arbitrage/quote", rec.path)
	assert.Empty(t, rec.caller)
}

func TestServerErrorIsReported(t *testing.T) {
	srv, _ := fakeServer(t, http.StatusConflict, `{"error":"attempt aborted","reason":"repayment_shortfall"}`)
	err := run(context.Background(), []string{"execute", "-server", srv.URL, "-key", testKey}, io.Discard)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "409")
	assert.Contains(t, err.Error(), "repayment_shortfall")
}

func TestEncryptThenSignWithKeyFile(t *testing.T) {
	t.Setenv(envPassword, "correct horse")
	path := filepath.Join(t.TempDir(), "key.json")

	var out bytes.Buffer
	require.NoError(t, run(context.Background(), []string{"encrypt", "-key", testKey, "-out", path}, &out))
	assert.Contains(t, out.String(), testAddress)

	srv, rec := fakeServer(t, http.StatusOK, `{}`)
	t.Setenv(envKey, "")
	require.NoError(t, run(context.Background(), []string{"operator", "-server", srv.URL, "-key-file", path, "-next", testAddress}, io.Discard))
	assert.Equal(t, testAddress, rec.caller)
	assert.Equal(t, testAddress, rec.body["operator"])
}

func TestKeygenPrintsKey(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, run(context.Background(), []string{"keygen"}, &out))
	assert.Contains(t, out.String(), "address: 0x")
	assert.Contains(t, out.String(), "key:     0x")
}

func TestUnknownCommand(t *testing.T) {
	assert.Error(t, run(context.Background(), []string{"launch"}, io.Discard))
	assert.Error(t, run(context.Background(), nil, io.Discard))
}
