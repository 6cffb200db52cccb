package feeds

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsFeeMarket(t *testing.T) {
	cases := map[string]bool{
		"Will Bitcoin reach $100k in March?":         true,
		"Will BTC close above 90k?":                  true,
		"ETH 15-minute up or down":                   true,
		"Solana Daily High above $200?":              true,
		"SOL price at End Of Day":                    true,
		"Who will win the 2028 presidential election?": false,
		"Will the Lakers win the NBA Finals?":        false,
	}
	for q, want := range cases {
		assert.Equal(t, want, IsFeeMarket(q), q)
	}
}

func market(id int, question string) map[string]any {
	return map[string]any{"id": strconv.Itoa(id), "question": question, "volumeNum": 1000.0}
}

func TestGamma_ListEligibleMarkets_Paginates(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, "/markets", r.URL.Path)
		q := r.URL.Query()
		assert.Equal(t, "true", q.Get("active"))
		assert.Equal(t, "false", q.Get("closed"))
		assert.Equal(t, "true", q.Get("neg_risk"))
		assert.Equal(t, "volumeNum", q.Get("order"))
		assert.Equal(t, "false", q.Get("ascending"))
		assert.Equal(t, "100", q.Get("limit"))

		offset, _ := strconv.Atoi(q.Get("offset"))
		n := PageSize
		if offset == PageSize {
			n = 3 // short page ends pagination
		}
		page := make([]map[string]any, 0, n)
		for i := 0; i < n; i++ {
			question := fmt.Sprintf("Who wins race %d?", offset+i)
			if offset+i == 5 {
				question = "Will Bitcoin hit 200k?"
			}
			page = append(page, market(offset+i+1, question))
		}
		_ = json.NewEncoder(w).Encode(page)
	}))
	defer server.Close()

	g := NewGamma(server.URL, 5*time.Second)
	markets, err := g.ListEligibleMarkets(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int32(2), calls.Load())
	assert.Len(t, markets, PageSize+3-1)
	for _, m := range markets {
		assert.False(t, IsFeeMarket(m.Question))
	}
}

func TestGamma_ListEligibleMarkets_EmptyPageStops(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte("[]"))
	}))
	defer server.Close()

	markets, err := NewGamma(server.URL, time.Second).ListEligibleMarkets(context.Background())
	require.NoError(t, err)
	assert.Empty(t, markets)
	assert.Equal(t, int32(1), calls.Load())
}

func TestGamma_ListEligibleMarkets_FailedPageKeepsPartial(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("offset") != "0" {
			http.Error(w, "boom", http.StatusBadGateway)
			return
		}
		page := make([]map[string]any, 0, PageSize)
		for i := 0; i < PageSize; i++ {
			page = append(page, market(i+1, "Who wins?"))
		}
		_ = json.NewEncoder(w).Encode(page)
	}))
	defer server.Close()

	markets, err := NewGamma(server.URL, time.Second).ListEligibleMarkets(context.Background())
	require.NoError(t, err)
	assert.Len(t, markets, PageSize)
}

func TestGamma_ListEligibleMarkets_FirstPageFails(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	markets, err := NewGamma(server.URL, time.Second).ListEligibleMarkets(context.Background())
	require.Error(t, err)
	assert.Empty(t, markets)
}

func TestGamma_FetchOutcomePrices_Tokens(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/markets/42", r.URL.Path)
		_, _ = w.Write([]byte(`{"id":"42","tokens":[
			{"token_id":"111","outcome":"Alice","price":0.40},
			{"token_id":"222","outcome":"Bob","price":"0.35"},
			{"token_id":"333","price":0.2}
		]}`))
	}))
	defer server.Close()

	quotes, err := NewGamma(server.URL, time.Second).FetchOutcomePrices(context.Background(), "42")
	require.NoError(t, err)
	require.Len(t, quotes, 3)
	assert.Equal(t, "Alice", quotes[0].Name)
	assert.Equal(t, "111", quotes[0].TokenID)
	assert.InDelta(t, 0.40, quotes[0].Price, 1e-9)
	assert.InDelta(t, 0.35, quotes[1].Price, 1e-9)
	assert.Equal(t, "?", quotes[2].Name)
}

func TestGamma_FetchOutcomePrices_StringArrays(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id":"7",
			"outcomes":"[\"Yes\",\"No\"]",
			"outcomePrices":"[\"0.55\",\"0.50\"]",
			"clobTokenIds":"[\"t-yes\",\"t-no\"]"}`))
	}))
	defer server.Close()

	quotes, err := NewGamma(server.URL, time.Second).FetchOutcomePrices(context.Background(), "7")
	require.NoError(t, err)
	require.Len(t, quotes, 2)
	assert.Equal(t, "Yes", quotes[0].Name)
	assert.Equal(t, "t-no", quotes[1].TokenID)
	assert.InDelta(t, 0.50, quotes[1].Price, 1e-9)
}

func TestGamma_RequestTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		_, _ = w.Write([]byte("{}"))
	}))
	defer server.Close()

	_, err := NewGamma(server.URL, 20*time.Millisecond).FetchOutcomePrices(context.Background(), "1")
	require.Error(t, err)
}
