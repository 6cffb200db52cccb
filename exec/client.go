package exec

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/web3guy0/negriskbot/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// POLYMARKET EXECUTION CLIENT
// ═══════════════════════════════════════════════════════════════════════════════
//
// Fill-or-kill leg orders on the CLOB, EIP-712 signed, L2 HMAC authenticated.
// Fail fast, no retries at this layer.
//
// ═══════════════════════════════════════════════════════════════════════════════

const (
	PolymarketCLOB = "https://clob.polymarket.com"
	OrderTypeFOK   = "FOK"
	StatusMatched  = "matched"
)

// ClientConfig carries the credentials and endpoints for live trading
type ClientConfig struct {
	BaseURL       string
	APIKey        string
	APISecret     string
	Passphrase    string
	PrivateKey    string
	FunderAddress string
	SignatureType int
	ChainID       int64
	Timeout       time.Duration
}

// Client places leg orders on the Polymarket CLOB
type Client struct {
	baseURL    string
	apiKey     string
	apiSecret  string
	passphrase string
	signer     *OrderSigner
	httpClient *http.Client
}

// OrderResponse from the CLOB API
type OrderResponse struct {
	OrderID   string `json:"orderID"`
	Status    string `json:"status"`
	Success   bool   `json:"success"`
	ErrorCode string `json:"errorCode,omitempty"`
	ErrorMsg  string `json:"errorMsg,omitempty"`
	Message   string `json:"message,omitempty"`
}

// NewClient creates a live execution client. Orders are signed against the
// NegRisk exchange since every scanned market is NegRisk.
func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.APIKey == "" || cfg.APISecret == "" || cfg.Passphrase == "" {
		return nil, errors.New("clob: API credentials required (POLY_API_KEY, POLY_API_SECRET, POLY_PASSPHRASE)")
	}

	pkHex := strings.TrimPrefix(cfg.PrivateKey, "0x")
	if pkHex == "" {
		return nil, errors.New("clob: WALLET_PRIVATE_KEY required")
	}
	pk, err := crypto.HexToECDSA(pkHex)
	if err != nil {
		return nil, fmt.Errorf("clob: invalid private key: %w", err)
	}

	switch cfg.SignatureType {
	case SignatureTypeEOA:
	case SignatureTypePolyProxy, SignatureTypeGnosisSafe:
		if cfg.FunderAddress == "" {
			return nil, fmt.Errorf("clob: signature type %d needs FUNDER_ADDRESS", cfg.SignatureType)
		}
	default:
		return nil, fmt.Errorf("clob: unknown signature type %d", cfg.SignatureType)
	}

	var funder common.Address
	if cfg.FunderAddress != "" {
		if !common.IsHexAddress(cfg.FunderAddress) {
			return nil, fmt.Errorf("clob: invalid funder address %q", cfg.FunderAddress)
		}
		funder = common.HexToAddress(cfg.FunderAddress)
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = PolymarketCLOB
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     cfg.APIKey,
		apiSecret:  cfg.APISecret,
		passphrase: cfg.Passphrase,
		signer:     NewOrderSigner(pk, funder, cfg.ChainID, NegRiskExchangeAddress, cfg.SignatureType),
		httpClient: &http.Client{Timeout: timeout},
	}

	log.Info().
		Str("signer", c.signer.Address().Hex()).
		Str("funder", c.signer.funderAddress.Hex()).
		Int("sig_type", cfg.SignatureType).
		Msg("🚀 Execution client initialized")

	return c, nil
}

// Buy places a fill-or-kill buy for a USDC notional at the leg price
func (c *Client) Buy(ctx context.Context, order types.LegOrder) (types.Fill, error) {
	return c.place(ctx, order, SideBuy)
}

// Sell places a fill-or-kill sell for a USDC notional at the leg price
func (c *Client) Sell(ctx context.Context, order types.LegOrder) (types.Fill, error) {
	return c.place(ctx, order, SideSell)
}

func (c *Client) place(ctx context.Context, order types.LegOrder, side int) (types.Fill, error) {
	start := time.Now()

	maker, taker, err := OrderAmounts(side, decimal.NewFromFloat(order.Amount), decimal.NewFromFloat(order.Price))
	if err != nil {
		return types.Fill{}, fmt.Errorf("clob: amounts: %w", err)
	}
	unsigned, err := c.signer.CreateOrder(order.TokenID, side, maker, taker)
	if err != nil {
		return types.Fill{}, fmt.Errorf("clob: create order: %w", err)
	}
	signed, err := c.signer.SignOrder(unsigned)
	if err != nil {
		return types.Fill{}, fmt.Errorf("clob: sign order: %w", err)
	}

	log.Debug().
		Str("token", shortToken(order.TokenID)).
		Str("side", string(order.Side)).
		Float64("price", order.Price).
		Float64("amount", order.Amount).
		Dur("sign_time", time.Since(start)).
		Msg("⚡ Order signed")

	resp, err := c.submit(ctx, signed, OrderTypeFOK)
	if err != nil {
		return types.Fill{}, err
	}

	return types.Fill{
		OrderID: resp.OrderID,
		Status:  resp.Status,
		Matched: strings.EqualFold(resp.Status, StatusMatched),
	}, nil
}

func (c *Client) submit(ctx context.Context, signed *SignedCTFOrder, orderType string) (*OrderResponse, error) {
	body, err := json.Marshal(signed.Payload(c.apiKey, orderType))
	if err != nil {
		return nil, fmt.Errorf("clob: marshal order: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/order", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("clob: build request: %w", err)
	}
	c.signL2Request(req, http.MethodPost, "/order", body)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if isUnreachable(err) {
			return nil, fmt.Errorf("clob: %w: %v", types.ErrCapabilityUnavailable, err)
		}
		return nil, fmt.Errorf("clob: request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)

	var orderResp OrderResponse
	if err := json.Unmarshal(respBody, &orderResp); err != nil {
		return nil, fmt.Errorf("clob: parse response (status %d): %w", resp.StatusCode, err)
	}

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		msg := orderResp.ErrorMsg
		if msg == "" {
			msg = orderResp.Message
		}
		return &orderResp, fmt.Errorf("clob: order rejected (%d): %s %s", resp.StatusCode, orderResp.ErrorCode, msg)
	}

	log.Info().
		Str("order_id", orderResp.OrderID).
		Str("status", orderResp.Status).
		Msg("✅ Order submitted")

	return &orderResp, nil
}

// signL2Request adds Level 2 authentication headers:
// HMAC-SHA256(secret, timestamp + method + path + body), URL-safe base64.
func (c *Client) signL2Request(req *http.Request, method, path string, body []byte) {
	timestamp := strconv.FormatInt(time.Now().Unix(), 10)

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("POLY_API_KEY", c.apiKey)
	req.Header.Set("POLY_SIGNATURE", l2Signature(c.apiSecret, timestamp, method, path, body))
	req.Header.Set("POLY_TIMESTAMP", timestamp)
	req.Header.Set("POLY_PASSPHRASE", c.passphrase)
	req.Header.Set("POLY_ADDRESS", c.signer.Address().Hex())
}

func l2Signature(secret, timestamp, method, path string, body []byte) string {
	message := timestamp + method + path + string(body)

	secretBytes, err := base64.URLEncoding.DecodeString(secret)
	if err != nil {
		// Unpadded secrets
		secretBytes, err = base64.RawURLEncoding.DecodeString(strings.TrimRight(secret, "="))
		if err != nil {
			secretBytes, _ = base64.StdEncoding.DecodeString(secret)
		}
	}

	h := hmac.New(sha256.New, secretBytes)
	h.Write([]byte(message))
	return base64.URLEncoding.EncodeToString(h.Sum(nil))
}

// A refused or failed dial means the venue is not reachable at all, as
// opposed to an order that was seen and rejected.
func isUnreachable(err error) bool {
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return true
	}
	var dnsErr *net.DNSError
	return errors.As(err, &dnsErr)
}

func shortToken(id string) string {
	if len(id) <= 16 {
		return id
	}
	return id[:16] + "..."
}
