package feeds

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/web3guy0/negriskbot/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// GAMMA GATEWAY - NegRisk market discovery + outcome prices
// ═══════════════════════════════════════════════════════════════════════════════
//
// Every cycle re-fetches fresh state. Nothing is cached between scans.
//
// ═══════════════════════════════════════════════════════════════════════════════

const (
	DefaultGammaURL = "https://gamma-api.polymarket.com"
	PageSize        = 100
)

// Crypto short-term markets carry taker fees that eat the whole margin.
var feeMarketKeywords = []string{
	"will bitcoin", "will btc", "will eth", "will ethereum",
	"will sol", "will solana", "will bnb",
	"15-minute", "5-minute", "hourly", "daily high",
	"end of day", "eod price",
}

// IsFeeMarket reports whether a market question matches a fee-bearing pattern.
func IsFeeMarket(question string) bool {
	q := strings.ToLower(question)
	for _, kw := range feeMarketKeywords {
		if strings.Contains(q, kw) {
			return true
		}
	}
	return false
}

// Gamma is the read-only market-data client
type Gamma struct {
	baseURL    string
	httpClient *http.Client
}

// NewGamma creates a Gamma API client. timeout bounds every request.
func NewGamma(baseURL string, timeout time.Duration) *Gamma {
	if baseURL == "" {
		baseURL = DefaultGammaURL
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Gamma{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

type gammaMarket struct {
	ID            string       `json:"id"`
	Question      string       `json:"question"`
	VolumeNum     float64      `json:"volumeNum"`
	Tokens        []gammaToken `json:"tokens"`
	Outcomes      string       `json:"outcomes"`
	OutcomePrices string       `json:"outcomePrices"`
	ClobTokenIDs  string       `json:"clobTokenIds"`
}

type gammaToken struct {
	TokenID string      `json:"token_id"`
	Outcome string      `json:"outcome"`
	Price   json.Number `json:"price"`
}

// ListEligibleMarkets pages through active NegRisk markets by volume and
// drops fee-bearing ones. A failed page ends pagination; whatever was
// gathered so far is still returned.
func (g *Gamma) ListEligibleMarkets(ctx context.Context) ([]types.MarketSummary, error) {
	log.Info().Msg("📡 Fetching NegRisk markets from Gamma API...")

	var all []gammaMarket
	var pageErr error
	for offset := 0; ; offset += PageSize {
		page, err := g.listPage(ctx, offset)
		if err != nil {
			pageErr = err
			log.Error().Err(err).Int("offset", offset).Msg("❌ Market page fetch failed")
			break
		}
		all = append(all, page...)
		if len(page) < PageSize {
			break
		}
	}

	markets := make([]types.MarketSummary, 0, len(all))
	for _, m := range all {
		if m.ID == "" || IsFeeMarket(m.Question) {
			continue
		}
		markets = append(markets, types.MarketSummary{
			ID:       m.ID,
			Question: m.Question,
			Volume:   m.VolumeNum,
		})
	}

	log.Info().
		Int("fee_free", len(markets)).
		Int("total", len(all)).
		Msg("✅ Fee-free markets loaded")

	if len(all) == 0 && pageErr != nil {
		return nil, pageErr
	}
	return markets, nil
}

func (g *Gamma) listPage(ctx context.Context, offset int) ([]gammaMarket, error) {
	params := url.Values{}
	params.Set("active", "true")
	params.Set("closed", "false")
	params.Set("neg_risk", "true")
	params.Set("order", "volumeNum")
	params.Set("ascending", "false")
	params.Set("offset", strconv.Itoa(offset))
	params.Set("limit", strconv.Itoa(PageSize))

	body, err := g.doGet(ctx, "/markets?"+params.Encode())
	if err != nil {
		return nil, fmt.Errorf("gamma: list markets offset=%d: %w", offset, err)
	}
	var page []gammaMarket
	if err := json.Unmarshal(body, &page); err != nil {
		return nil, fmt.Errorf("gamma: decode markets: %w", err)
	}
	return page, nil
}

// FetchOutcomePrices returns every outcome of one market with its YES price.
func (g *Gamma) FetchOutcomePrices(ctx context.Context, marketID string) ([]types.OutcomeQuote, error) {
	body, err := g.doGet(ctx, "/markets/"+url.PathEscape(marketID))
	if err != nil {
		return nil, fmt.Errorf("gamma: get market %s: %w", marketID, err)
	}
	var m gammaMarket
	if err := json.Unmarshal(body, &m); err != nil {
		return nil, fmt.Errorf("gamma: decode market %s: %w", marketID, err)
	}

	if len(m.Tokens) > 0 {
		quotes := make([]types.OutcomeQuote, 0, len(m.Tokens))
		for _, t := range m.Tokens {
			price, _ := t.Price.Float64()
			name := t.Outcome
			if name == "" {
				name = "?"
			}
			quotes = append(quotes, types.OutcomeQuote{Name: name, TokenID: t.TokenID, Price: price})
		}
		return quotes, nil
	}
	return decodeStringArrays(m)
}

// Gamma also serves outcomes as JSON-encoded string arrays.
func decodeStringArrays(m gammaMarket) ([]types.OutcomeQuote, error) {
	if m.Outcomes == "" || m.OutcomePrices == "" {
		return nil, nil
	}
	var names, prices, tokens []string
	if err := json.Unmarshal([]byte(m.Outcomes), &names); err != nil {
		return nil, fmt.Errorf("gamma: decode outcomes: %w", err)
	}
	if err := json.Unmarshal([]byte(m.OutcomePrices), &prices); err != nil {
		return nil, fmt.Errorf("gamma: decode outcomePrices: %w", err)
	}
	if m.ClobTokenIDs != "" {
		if err := json.Unmarshal([]byte(m.ClobTokenIDs), &tokens); err != nil {
			return nil, fmt.Errorf("gamma: decode clobTokenIds: %w", err)
		}
	}

	quotes := make([]types.OutcomeQuote, 0, len(names))
	for i, name := range names {
		if i >= len(prices) {
			break
		}
		price, err := strconv.ParseFloat(prices[i], 64)
		if err != nil {
			continue
		}
		q := types.OutcomeQuote{Name: name, Price: price}
		if i < len(tokens) {
			q.TokenID = tokens[i]
		}
		quotes = append(quotes, q)
	}
	return quotes, nil
}

func (g *Gamma) doGet(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, truncate(string(body), 200))
	}
	return body, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
