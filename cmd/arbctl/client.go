package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/alanyoungcy/flasharb/internal/crypto"
	"github.com/alanyoungcy/flasharb/internal/server/middleware"
)

// client talks to a flasharb server. Requests are signed when signer is set.
type client struct {
	baseURL string
	signer  *crypto.Signer
	http    *http.Client
	now     func() time.Time
}

func newClient(baseURL string, signer *crypto.Signer) *client {
	return &client{
		baseURL: strings.TrimRight(baseURL, "/"),
		signer:  signer,
		http:    &http.Client{Timeout: 30 * time.Second},
		now:     time.Now,
	}
}

// do sends method path with body encoded as JSON and returns the response
// body. Non-2xx responses become errors carrying the server's message.
func (c *client) do(ctx context.Context, method, path string, body any) ([]byte, error) {
	var raw []byte
	if body != nil {
		var err error
		if raw, err = json.Marshal(body); err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.signer != nil {
		ts := c.now().Unix()
		sig, err := c.signer.SignRequest(method, req.URL.Path, ts, raw)
		if err != nil {
			return nil, fmt.Errorf("sign request: %w", err)
		}
		req.Header.Set(middleware.HeaderSignature, sig)
		req.Header.Set(middleware.HeaderTimestamp, strconv.FormatInt(ts, 10))
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	out, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var e struct {
			Error  string `json:"error"`
			Reason string `json:"reason"`
		}
		if json.Unmarshal(out, &e) == nil && e.Error != "" {
			if e.Reason != "" {
				return nil, fmt.Errorf("%s %s: %d %s (%s)", method, path, resp.StatusCode, e.Error, e.Reason)
			}
			return nil, fmt.Errorf("%s %s: %d %s", method, path, resp.StatusCode, e.Error)
		}
		return nil, fmt.Errorf("%s %s: status %d", method, path, resp.StatusCode)
	}
	return out, nil
}
