package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/flasharb/internal/domain"
)

type recordingSender struct {
	mu     sync.Mutex
	name   string
	err    error
	titles []string
	bodies []string
}

func (r *recordingSender) Send(_ context.Context, title, message string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.titles = append(r.titles, title)
	r.bodies = append(r.bodies, message)
	return r.err
}

func (r *recordingSender) Name() string { return r.name }

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNotifierFiltersEvents(t *testing.T) {
	rec := &recordingSender{name: "rec"}
	n := NewNotifier([]Sender{rec}, []string{EventSettlement, " "}, quietLogger())

	require.NoError(t, n.Notify(context.Background(), EventAbort, "x", "y"))
	require.NoError(t, n.Notify(context.Background(), EventSettlement, "a", "b"))

	assert.Equal(t, []string{"a"}, rec.titles)
}

func TestNotifierEmptyAllowListForwardsAll(t *testing.T) {
	rec := &recordingSender{name: "rec"}
	n := NewNotifier([]Sender{rec}, nil, quietLogger())

	require.NoError(t, n.Aborted(context.Background(), domain.Attempt{
		VenueA: "a", VenueB: "b", StateReached: "leg1_done", Reason: "repayment shortfall",
	}))
	require.NoError(t, n.Retrieved(context.Background(), "0xasset", "10", "0xdest"))

	require.Len(t, rec.titles, 2)
	assert.Equal(t, "Arbitrage aborted", rec.titles[0])
	assert.Contains(t, rec.bodies[0], "leg1_done")
	assert.Contains(t, rec.bodies[1], "10 of 0xasset")
}

func TestNotifierContinuesAfterFailure(t *testing.T) {
	bad := &recordingSender{name: "bad", err: errors.New("boom")}
	good := &recordingSender{name: "good"}
	n := NewNotifier([]Sender{bad, good}, nil, quietLogger())

	err := n.Notify(context.Background(), EventSettlement, "t", "m")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad: boom")
	assert.Len(t, good.titles, 1)
}

func TestNilNotifierIsDisabled(t *testing.T) {
	var n *Notifier
	assert.False(t, n.Enabled())
	assert.NoError(t, n.Notify(context.Background(), EventAbort, "t", "m"))
}

func TestSettledMessage(t *testing.T) {
	rec := &recordingSender{name: "rec"}
	n := NewNotifier([]Sender{rec}, nil, quietLogger())

	s := domain.Settlement{
		ID: "s-1",
		ArbitrageResult: domain.ArbitrageResult{
			SwapAmount:     uint256.NewInt(1000),
			Direction:      domain.ZeroForOne,
			BalanceChange0: big.NewInt(7),
			BalanceChange1: big.NewInt(0),
			VenueA:         "src",
			VenueB:         "dst",
		},
	}
	require.NoError(t, n.Settled(context.Background(), s))
	require.Len(t, rec.bodies, 1)
	body := rec.bodies[0]
	assert.Contains(t, body, "src → dst")
	assert.Contains(t, body, "swap 1000, premium 0")
	assert.Contains(t, body, "balance change: 7 / 0")
	assert.Contains(t, body, "id s-1")
}

func TestDiscordSender(t *testing.T) {
	var got discordPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	d := NewDiscordSender(srv.URL)
	require.NoError(t, d.Send(context.Background(), "Arbitrage settled", "ok"))
	require.Len(t, got.Embeds, 1)
	assert.Equal(t, colorSettled, got.Embeds[0].Color)
	assert.Contains(t, got.Embeds[0].Description, "ok")
	assert.Equal(t, "discord", d.Name())
}

func TestDiscordSenderStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	err := NewDiscordSender(srv.URL).Send(context.Background(), "t", "m")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
	assert.Contains(t, err.Error(), "rate limited")
}

func TestTelegramSender(t *testing.T) {
	var (
		path string
		got  telegramMessage
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	tg := NewTelegramSender(srv.URL+"/", "tok", "42")
	require.NoError(t, tg.Send(context.Background(), "Arbitrage aborted", "why"))

	assert.Equal(t, "/bottok/sendMessage", path)
	assert.Equal(t, "42", got.ChatID)
	assert.Equal(t, "Markdown", got.ParseMode)
	assert.True(t, got.DisableWebPagePreview)
	assert.Contains(t, got.Text, "*Arbitrage aborted*")
}

func TestTelegramDefaultBaseURL(t *testing.T) {
	tg := NewTelegramSender("", "tok", "1")
	assert.Equal(t, defaultTelegramAPI, tg.baseURL)
}

func TestEmbedColor(t *testing.T) {
	assert.Equal(t, colorSettled, embedColor("Arbitrage settled"))
	assert.Equal(t, colorAborted, embedColor("Arbitrage aborted"))
	assert.Equal(t, colorDefault, embedColor("Custody withdrawal"))
}
