package exec

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"math/rand"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/shopspring/decimal"
)

// Polymarket exchange contracts (Polygon Mainnet)
const (
	PolygonChainID         = 137
	NegRiskExchangeAddress = "0xC5d563A36AE78145C45a50134d48A1215220f80a"
	ZeroAddress            = "0x0000000000000000000000000000000000000000"
)

// Signature types
const (
	SignatureTypeEOA        = 0
	SignatureTypePolyProxy  = 1
	SignatureTypeGnosisSafe = 2
)

// Order sides as encoded on-chain
const (
	SideBuy  = 0
	SideSell = 1
)

// USDC and outcome shares both use 6 decimals
const tokenDecimals = 6

// CTFOrder is an exchange order before signing
type CTFOrder struct {
	Salt          *big.Int
	Maker         common.Address
	Signer        common.Address
	Taker         common.Address
	TokenID       *big.Int
	MakerAmount   *big.Int
	TakerAmount   *big.Int
	Expiration    *big.Int
	Nonce         *big.Int
	FeeRateBps    *big.Int
	Side          uint8
	SignatureType uint8
}

// SignedCTFOrder is an order with its signature
type SignedCTFOrder struct {
	Order     *CTFOrder
	Signature string
}

// OrderSigner handles EIP-712 order signing
type OrderSigner struct {
	privateKey    *ecdsa.PrivateKey
	signerAddress common.Address
	funderAddress common.Address
	chainID       int64
	exchangeAddr  common.Address
	signatureType int
}

// NewOrderSigner creates a signer bound to one exchange contract. A zero
// funder means the signer holds the funds.
func NewOrderSigner(privateKey *ecdsa.PrivateKey, funder common.Address, chainID int64, exchange string, signatureType int) *OrderSigner {
	signer := crypto.PubkeyToAddress(privateKey.PublicKey)
	if funder == (common.Address{}) {
		funder = signer
	}
	if chainID == 0 {
		chainID = PolygonChainID
	}
	return &OrderSigner{
		privateKey:    privateKey,
		signerAddress: signer,
		funderAddress: funder,
		chainID:       chainID,
		exchangeAddr:  common.HexToAddress(exchange),
		signatureType: signatureType,
	}
}

// Address returns the signing address
func (s *OrderSigner) Address() common.Address { return s.signerAddress }

// OrderAmounts converts a USDC notional at a price into maker/taker units.
//
//	BUY:  maker = USDC spent,   taker = shares received
//	SELL: maker = shares given, taker = USDC received
//
// Price is snapped to the 0.01 tick, USDC truncated to cents and shares
// truncated to 4 dp so the budget is never exceeded.
func OrderAmounts(side int, notional, price decimal.Decimal) (maker, taker *big.Int, err error) {
	tick := price.Round(2)
	if !tick.IsPositive() || tick.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return nil, nil, fmt.Errorf("price %s outside (0,1)", price)
	}
	usdc := notional.Truncate(2)
	if !usdc.IsPositive() {
		return nil, nil, fmt.Errorf("amount %s too small", notional)
	}
	shares := usdc.Div(tick).Truncate(4)

	if side == SideBuy {
		return toUnits(usdc), toUnits(shares), nil
	}
	return toUnits(shares), toUnits(shares.Mul(tick).Truncate(4)), nil
}

func toUnits(d decimal.Decimal) *big.Int {
	return d.Shift(tokenDecimals).BigInt()
}

// CreateOrder creates an unsigned order. Fee-free markets only: fee rate 0.
func (s *OrderSigner) CreateOrder(tokenID string, side int, makerAmount, takerAmount *big.Int) (*CTFOrder, error) {
	tokenIDInt, ok := new(big.Int).SetString(tokenID, 10)
	if !ok {
		return nil, fmt.Errorf("invalid token id %q", tokenID)
	}

	return &CTFOrder{
		Salt:          big.NewInt(rand.Int63()),
		Maker:         s.funderAddress,
		Signer:        s.signerAddress,
		Taker:         common.HexToAddress(ZeroAddress),
		TokenID:       tokenIDInt,
		MakerAmount:   makerAmount,
		TakerAmount:   takerAmount,
		Expiration:    big.NewInt(0),
		Nonce:         big.NewInt(0),
		FeeRateBps:    big.NewInt(0),
		Side:          uint8(side),
		SignatureType: uint8(s.signatureType),
	}, nil
}

// Hash returns the EIP-712 digest of an order
func (s *OrderSigner) Hash(order *CTFOrder) (common.Hash, error) {
	typedData := s.buildTypedData(order)

	domainSeparator, err := typedData.HashStruct("EIP712Domain", typedData.Domain.Map())
	if err != nil {
		return common.Hash{}, fmt.Errorf("hash domain: %w", err)
	}
	messageHash, err := typedData.HashStruct(typedData.PrimaryType, typedData.Message)
	if err != nil {
		return common.Hash{}, fmt.Errorf("hash message: %w", err)
	}

	// keccak256("\x19\x01" || domainSeparator || messageHash)
	raw := make([]byte, 0, 66)
	raw = append(raw, 0x19, 0x01)
	raw = append(raw, domainSeparator...)
	raw = append(raw, messageHash...)
	return crypto.Keccak256Hash(raw), nil
}

// SignOrder signs an order using EIP-712
func (s *OrderSigner) SignOrder(order *CTFOrder) (*SignedCTFOrder, error) {
	hash, err := s.Hash(order)
	if err != nil {
		return nil, err
	}

	signature, err := crypto.Sign(hash.Bytes(), s.privateKey)
	if err != nil {
		return nil, fmt.Errorf("sign: %w", err)
	}
	// Ethereum uses 27/28
	if signature[64] < 27 {
		signature[64] += 27
	}

	return &SignedCTFOrder{
		Order:     order,
		Signature: fmt.Sprintf("0x%x", signature),
	}, nil
}

func (s *OrderSigner) buildTypedData(order *CTFOrder) apitypes.TypedData {
	return apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": {
				{Name: "name", Type: "string"},
				{Name: "version", Type: "string"},
				{Name: "chainId", Type: "uint256"},
				{Name: "verifyingContract", Type: "address"},
			},
			"Order": {
				{Name: "salt", Type: "uint256"},
				{Name: "maker", Type: "address"},
				{Name: "signer", Type: "address"},
				{Name: "taker", Type: "address"},
				{Name: "tokenId", Type: "uint256"},
				{Name: "makerAmount", Type: "uint256"},
				{Name: "takerAmount", Type: "uint256"},
				{Name: "expiration", Type: "uint256"},
				{Name: "nonce", Type: "uint256"},
				{Name: "feeRateBps", Type: "uint256"},
				{Name: "side", Type: "uint8"},
				{Name: "signatureType", Type: "uint8"},
			},
		},
		PrimaryType: "Order",
		Domain: apitypes.TypedDataDomain{
			Name:              "Polymarket CTF Exchange",
			Version:           "1",
			ChainId:           math.NewHexOrDecimal256(s.chainID),
			VerifyingContract: s.exchangeAddr.Hex(),
		},
		Message: apitypes.TypedDataMessage{
			"salt":          order.Salt.String(),
			"maker":         order.Maker.Hex(),
			"signer":        order.Signer.Hex(),
			"taker":         order.Taker.Hex(),
			"tokenId":       order.TokenID.String(),
			"makerAmount":   order.MakerAmount.String(),
			"takerAmount":   order.TakerAmount.String(),
			"expiration":    order.Expiration.String(),
			"nonce":         order.Nonce.String(),
			"feeRateBps":    order.FeeRateBps.String(),
			"side":          fmt.Sprintf("%d", order.Side),
			"signatureType": fmt.Sprintf("%d", order.SignatureType),
		},
	}
}

// Payload converts a signed order to the POST /order body. The signature
// goes inside the order object and owner is the API key.
func (o *SignedCTFOrder) Payload(apiKey, orderType string) map[string]any {
	side := "BUY"
	if o.Order.Side == SideSell {
		side = "SELL"
	}
	return map[string]any{
		"order": map[string]any{
			"salt":          o.Order.Salt.Int64(),
			"maker":         o.Order.Maker.Hex(),
			"signer":        o.Order.Signer.Hex(),
			"taker":         o.Order.Taker.Hex(),
			"tokenId":       o.Order.TokenID.String(),
			"makerAmount":   o.Order.MakerAmount.String(),
			"takerAmount":   o.Order.TakerAmount.String(),
			"expiration":    o.Order.Expiration.String(),
			"nonce":         o.Order.Nonce.String(),
			"feeRateBps":    o.Order.FeeRateBps.String(),
			"side":          side,
			"signatureType": int(o.Order.SignatureType),
			"signature":     o.Signature,
		},
		"owner":     apiKey,
		"orderType": orderType,
		"postOnly":  false,
	}
}
