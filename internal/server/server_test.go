package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xunboo/polymarket-copy-bot/internal/cache/memory"
	"github.com/xunboo/polymarket-copy-bot/internal/domain"
	"github.com/xunboo/polymarket-copy-bot/internal/server/handler"
	"github.com/xunboo/polymarket-copy-bot/internal/service"
	storemem "github.com/xunboo/polymarket-copy-bot/internal/store/memory"
)

const addrA = "0x1111111111111111111111111111111111111111"

type stubLeaderboard struct {
	err error
}

func (s *stubLeaderboard) GetLeaderboard(_ context.Context, period string) ([]domain.LeaderboardEntry, error) {
	if s.err != nil {
		return nil, s.err
	}
	return []domain.LeaderboardEntry{{Rank: 1, ProxyWallet: addrA, UserName: period, PnL: decimal.NewFromInt(5)}}, nil
}

type testEnv struct {
	handler   http.Handler
	events    *storemem.ActivityStore
	positions *storemem.PositionStore
	audit     *storemem.AuditStore
	board     *stubLeaderboard
}

func newTestEnv(t *testing.T, apiKey string) *testEnv {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	events := storemem.NewActivityStore()
	positions := storemem.NewPositionStore()
	audit := storemem.NewAuditStore()
	board := &stubLeaderboard{}

	watchSvc := service.NewWatchlistService(storemem.NewWatchStore(), audit, logger)
	boardSvc := service.NewLeaderboardService(board, memory.NewLeaderboardCache(time.Minute), logger)

	srv := NewServer(Config{Port: 0, APIKey: apiKey}, Handlers{
		Health:      handler.NewHealthHandler("full", logger),
		Users:       handler.NewUsersHandler(watchSvc, logger),
		Leaderboard: handler.NewLeaderboardHandler(boardSvc, logger),
		Events:      handler.NewEventHandler(events, logger),
		Positions:   handler.NewPositionHandler(positions, logger),
		Audit:       handler.NewAuditHandler(audit, logger),
	}, nil, logger)

	return &testEnv{handler: srv.Handler(), events: events, positions: positions, audit: audit, board: board}
}

func (e *testEnv) do(t *testing.T, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, r)
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, "")
	rec := env.do(t, http.MethodGet, "/api/health", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "full", body["mode"])
}

func TestUsersLifecycle(t *testing.T) {
	env := newTestEnv(t, "")

	rec := env.do(t, http.MethodGet, "/api/users", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())

	rec = env.do(t, http.MethodPost, "/api/users", `{"address":"`+addrA+`","name":"whale"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/users", `{"address":"`+addrA+`"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/users", "")
	assert.JSONEq(t, `["`+addrA+`"]`, rec.Body.String())

	rec = env.do(t, http.MethodGet, "/api/watchlist", "")
	var entries []domain.WatchEntry
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, "whale", entries[0].Name)
	assert.Nil(t, entries[0].BackfilledAt)

	rec = env.do(t, http.MethodDelete, "/api/users/"+addrA, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = env.do(t, http.MethodDelete, "/api/users/"+addrA, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAddUserValidation(t *testing.T) {
	env := newTestEnv(t, "")

	tests := []struct {
		name string
		body string
	}{
		{"malformed json", `{`},
		{"missing address", `{"name":"x"}`},
		{"bad address", `{"address":"0x123"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodPost, "/api/users", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestLeaderboard(t *testing.T) {
	env := newTestEnv(t, "")

	rec := env.do(t, http.MethodGet, "/api/leaderboard", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var entries []domain.LeaderboardEntry
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, "MONTH", entries[0].UserName)

	rec = env.do(t, http.MethodGet, "/api/leaderboard?timePeriod=decade", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	env.board.err = errors.New("boom")
	rec = env.do(t, http.MethodGet, "/api/leaderboard?timePeriod=day", "")
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.JSONEq(t, `{"error":"failed to fetch leaderboard data"}`, rec.Body.String())
}

func TestEventsQuery(t *testing.T) {
	env := newTestEnv(t, "")
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i, tx := range []string{"0xa", "0xb", "0xc"} {
		require.NoError(t, env.events.AddNew(ctx, domain.TradeEvent{
			Address:   addrA,
			TxHash:    tx,
			Side:      domain.SideBuy,
			Size:      decimal.NewFromInt(1),
			Price:     decimal.RequireFromString("0.5"),
			Timestamp: base.Add(time.Duration(i) * time.Minute),
		}))
	}

	rec := env.do(t, http.MethodGet, "/api/events?address="+addrA+"&limit=2", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var events []domain.TradeEvent
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &events))
	require.Len(t, events, 2)
	assert.Equal(t, "0xc", events[0].TxHash)

	rec = env.do(t, http.MethodGet, "/api/events/"+events[0].ID, "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/events/missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/events?state=bogus", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/events?since=yesterday", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPositionsAndAudit(t *testing.T) {
	env := newTestEnv(t, "")
	ctx := context.Background()

	require.NoError(t, env.positions.Upsert(ctx, domain.PositionSnapshot{
		Address: addrA, AssetID: "1", ConditionID: "c", Size: decimal.NewFromInt(3),
	}))
	require.NoError(t, env.audit.Log(ctx, domain.AuditOrderSubmitted, map[string]any{"event_id": "ev-1", "order_id": "o1"}))
	require.NoError(t, env.audit.Log(ctx, domain.AuditWatchAdded, map[string]any{"address": addrA}))

	rec := env.do(t, http.MethodGet, "/api/positions?address="+addrA, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var positions []domain.PositionSnapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &positions))
	assert.Len(t, positions, 1)

	rec = env.do(t, http.MethodGet, "/api/audit", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var entries []domain.AuditEntry
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entries))
	require.Len(t, entries, 2)
	assert.Equal(t, domain.AuditWatchAdded, entries[0].Event)

	rec = env.do(t, http.MethodGet, "/api/audit?event=order_submitted", "")
	require.Equal(t, http.StatusOK, rec.Code)
	entries = nil
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, domain.AuditOrderSubmitted, entries[0].Event)

	rec = env.do(t, http.MethodGet, "/api/audit?event_id=ev-1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	entries = nil
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, "o1", entries[0].Detail["order_id"])
}

func TestAuditRejectsUnknownEvent(t *testing.T) {
	env := newTestEnv(t, "")

	rec := env.do(t, http.MethodGet, "/api/audit?event=trade_copied", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "unknown audit event")
}

func TestAuthProtectsAPIButNotHealth(t *testing.T) {
	env := newTestEnv(t, "secret")

	assert.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/api/health", "").Code)
	assert.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/metrics", "").Code)
	assert.Equal(t, http.StatusUnauthorized, env.do(t, http.MethodGet, "/api/users", "").Code)

	req := httptest.NewRequest(http.MethodGet, "/api/users", nil)
	req.Header.Set("Authorization", "Bearer secret")
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}
