package polymarket

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xunboo/polymarket-copy-bot/internal/domain"
)

const watched = "0xAbC0000000000000000000000000000000000001"

func newTestDataClient(url string, limiter domain.RateLimiter) *DataClient {
	return NewDataClient(DataClientConfig{
		BaseURL:        url,
		Timeout:        2 * time.Second,
		RetryLimit:     3,
		InitialBackoff: time.Millisecond,
		Limiter:        limiter,
	})
}

type countingLimiter struct{ waits atomic.Int32 }

func (l *countingLimiter) Allow(context.Context, string) (bool, error) { return true, nil }
func (l *countingLimiter) Wait(context.Context, string) error {
	l.waits.Add(1)
	return nil
}

func TestDataClient_GetActivity(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/activity", r.URL.Path)
		assert.Equal(t, watched, r.URL.Query().Get("user"))
		assert.Equal(t, "TRADE", r.URL.Query().Get("type"))
		assert.Equal(t, "100", r.URL.Query().Get("limit"))
		fmt.Fprint(w, `[
			{"proxyWallet":"`+watched+`","timestamp":1700000000,"conditionId":"0xc1","type":"TRADE",
			 "size":20,"usdcSize":10.5,"transactionHash":"0xAAA","price":0.525,"asset":"111",
			 "side":"BUY","title":"Will it rain?","slug":"rain","outcome":"Yes"},
			{"timestamp":1700000001,"type":"TRADE","size":5,"price":0.4,"asset":"222",
			 "side":"MERGE","transactionHash":"0xbbb"},
			{"timestamp":1700000002,"type":"TRADE","size":1,"price":0.4,"asset":"333","side":"SELL"}
		]`)
	}))
	defer srv.Close()

	events, err := newTestDataClient(srv.URL, nil).GetActivity(context.Background(), watched, "TRADE", 100)
	require.NoError(t, err)
	require.Len(t, events, 2, "entries without a transaction hash are dropped")

	ev := events[0]
	assert.Equal(t, strings.ToLower(watched), ev.Address)
	assert.Equal(t, "0xaaa", ev.TxHash)
	assert.Equal(t, domain.SideBuy, ev.Side)
	assert.Equal(t, "10.5", ev.Notional.String())
	assert.Equal(t, "0.525", ev.Price.String())
	assert.Equal(t, time.Unix(1700000000, 0).UTC(), ev.Timestamp)
	assert.Equal(t, "Yes", ev.OutcomeName)

	assert.Equal(t, domain.SideUnknown, events[1].Side)
	assert.Equal(t, "2", events[1].Notional.String(), "notional falls back to size*price")
}

func TestDataClient_GetPositions(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/positions", r.URL.Path)
		fmt.Fprint(w, `[{"asset":"111","conditionId":"0xc1","size":"12.5","avgPrice":0.4,
			"curPrice":0.5,"currentValue":6.25,"cashPnl":1.25,"redeemable":false,"outcome":"No"}]`)
	}))
	defer srv.Close()

	c := newTestDataClient(srv.URL, nil)
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	c.now = func() time.Time { return fixed }

	positions, err := c.GetPositions(context.Background(), watched)
	require.NoError(t, err)
	require.Len(t, positions, 1)
	p := positions[0]
	assert.Equal(t, "12.5", p.Size.String())
	assert.Equal(t, "6.25", p.Notional().String())
	assert.Equal(t, fixed, p.UpdatedAt)
	assert.Equal(t, strings.ToLower(watched), p.Address)
}

func TestDataClient_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "upstream down", http.StatusBadGateway)
			return
		}
		fmt.Fprint(w, `[]`)
	}))
	defer srv.Close()

	limiter := &countingLimiter{}
	events, err := newTestDataClient(srv.URL, limiter).GetActivity(context.Background(), watched, "TRADE", 10)
	require.NoError(t, err)
	assert.Empty(t, events)
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, int32(3), limiter.waits.Load())
}

func TestDataClient_GivesUpAfterRetryLimit(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := newTestDataClient(srv.URL, nil).GetPositions(context.Background(), watched)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP 500")
	assert.Equal(t, int32(3), calls.Load())
}

func TestDataClient_ClientErrorsAreNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "bad user", http.StatusBadRequest)
	}))
	defer srv.Close()

	_, err := newTestDataClient(srv.URL, nil).GetActivity(context.Background(), "nope", "TRADE", 10)
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestDataClient_RateLimitedIsRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		fmt.Fprint(w, `[]`)
	}))
	defer srv.Close()

	_, err := newTestDataClient(srv.URL, nil).GetPositions(context.Background(), watched)
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

func TestDataClient_GetLeaderboardPages(t *testing.T) {
	var offsets []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/leaderboard", r.URL.Path)
		assert.Equal(t, "WEEK", r.URL.Query().Get("timePeriod"))
		offset := r.URL.Query().Get("offset")
		offsets = append(offsets, offset)

		n := 50
		if offset == "50" {
			n = 2
		}
		rows := make([]string, 0, n)
		for i := 0; i < n; i++ {
			rows = append(rows, fmt.Sprintf(`{"rank":"%d","proxyWallet":"0x%040d","userName":"u%d","vol":1000.5,"pnl":-3}`, i+1, i, i))
		}
		fmt.Fprint(w, "["+strings.Join(rows, ",")+"]")
	}))
	defer srv.Close()

	entries, err := newTestDataClient(srv.URL, nil).GetLeaderboard(context.Background(), "week")
	require.NoError(t, err)
	assert.Len(t, entries, 52)
	assert.Equal(t, []string{"0", "50"}, offsets)
	assert.Equal(t, 1, entries[0].Rank)
	assert.Equal(t, "1000.5", entries[0].Volume.String())
	assert.Equal(t, "-3", entries[0].PnL.String())
}
