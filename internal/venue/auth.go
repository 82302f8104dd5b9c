package venue

import (
	"crypto/ecdsa"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"math/big"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethmath "github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/shopspring/decimal"

	"github.com/Ruairih/Prediction-Bot-sub001/internal/config"
	"github.com/Ruairih/Prediction-Bot-sub001/pkg/types"
)

// Credentials holds the L2 API key triplet used for HMAC-signed trading
// requests.
type Credentials struct {
	ApiKey     string `json:"apiKey"`
	Secret     string `json:"secret"`
	Passphrase string `json:"passphrase"`
}

// Auth handles the venue's two authentication layers:
//
//   - L1 (EIP-712): used only to derive L2 API keys. Signs a typed-data
//     "ClobAuth" message with the wallet's private key.
//
//   - L2 (HMAC-SHA256): used for all trading operations. Signs
//     "timestamp + method + path [+ body]" with the derived API secret.
//
// The funder address may differ from the signing address when a proxy
// wallet holds the funds.
type Auth struct {
	privateKey    *ecdsa.PrivateKey
	address       common.Address
	funderAddress common.Address
	chainID       *big.Int
	sigType       int
	creds         Credentials
}

// NewAuth creates an Auth from config. The private key is optional in paper
// mode; live mode validation happens in config.Validate.
func NewAuth(cfg *config.Config) (*Auth, error) {
	a := &Auth{
		chainID: big.NewInt(int64(cfg.Wallet.ChainID)),
		sigType: cfg.Wallet.SignatureType,
		creds: Credentials{
			ApiKey:     cfg.Credentials.ApiKey,
			Secret:     cfg.Credentials.Secret,
			Passphrase: cfg.Credentials.Passphrase,
		},
	}

	if cfg.Wallet.PrivateKey != "" {
		keyHex := cfg.Wallet.PrivateKey
		if len(keyHex) >= 2 && keyHex[:2] == "0x" {
			keyHex = keyHex[2:]
		}
		privateKey, err := crypto.HexToECDSA(keyHex)
		if err != nil {
			return nil, fmt.Errorf("parse private key: %w", err)
		}
		a.privateKey = privateKey
		a.address = crypto.PubkeyToAddress(privateKey.PublicKey)
	}

	if cfg.Wallet.FunderAddress != "" {
		a.funderAddress = common.HexToAddress(cfg.Wallet.FunderAddress)
	} else {
		a.funderAddress = a.address
	}

	return a, nil
}

// Address returns the signer's Ethereum address.
func (a *Auth) Address() common.Address {
	return a.address
}

// FunderAddress returns the funder/proxy wallet address.
func (a *Auth) FunderAddress() common.Address {
	return a.funderAddress
}

// HasL2Credentials reports whether the L2 triplet is configured.
func (a *Auth) HasL2Credentials() bool {
	return a.creds.ApiKey != "" && a.creds.Secret != "" && a.creds.Passphrase != ""
}

// SetCredentials installs L2 credentials derived via L1.
func (a *Auth) SetCredentials(creds Credentials) {
	a.creds = creds
}

// L1Headers generates headers for L1-authenticated key-management endpoints.
func (a *Auth) L1Headers(nonce int) (map[string]string, error) {
	if a.privateKey == nil {
		return nil, fmt.Errorf("l1 auth requires a private key")
	}
	timestamp := strconv.FormatInt(time.Now().Unix(), 10)

	sig, err := a.signClobAuth(timestamp, nonce)
	if err != nil {
		return nil, fmt.Errorf("sign clob auth: %w", err)
	}

	return map[string]string{
		"POLY_ADDRESS":   a.address.Hex(),
		"POLY_SIGNATURE": sig,
		"POLY_TIMESTAMP": timestamp,
		"POLY_NONCE":     strconv.Itoa(nonce),
	}, nil
}

// L2Headers generates headers for L2-authenticated trading endpoints.
func (a *Auth) L2Headers(method, path, body string) (map[string]string, error) {
	timestamp := strconv.FormatInt(time.Now().Unix(), 10)

	sig, err := a.buildHMAC(timestamp, method, path, body)
	if err != nil {
		return nil, fmt.Errorf("build hmac: %w", err)
	}

	return map[string]string{
		"POLY_ADDRESS":    a.address.Hex(),
		"POLY_SIGNATURE":  sig,
		"POLY_TIMESTAMP":  timestamp,
		"POLY_API_KEY":    a.creds.ApiKey,
		"POLY_PASSPHRASE": a.creds.Passphrase,
	}, nil
}

// signClobAuth produces an EIP-712 signature for L1 authentication.
func (a *Auth) signClobAuth(timestamp string, nonce int) (string, error) {
	sig, err := a.signTypedData(
		&apitypes.TypedDataDomain{
			Name:    "ClobAuthDomain",
			Version: "1",
			ChainId: (*ethmath.HexOrDecimal256)(new(big.Int).Set(a.chainID)),
		},
		apitypes.Types{
			"EIP712Domain": {
				{Name: "name", Type: "string"},
				{Name: "version", Type: "string"},
				{Name: "chainId", Type: "uint256"},
			},
			"ClobAuth": {
				{Name: "address", Type: "address"},
				{Name: "timestamp", Type: "string"},
				{Name: "nonce", Type: "uint256"},
				{Name: "message", Type: "string"},
			},
		},
		apitypes.TypedDataMessage{
			"address":   a.address.Hex(),
			"timestamp": timestamp,
			"nonce":     fmt.Sprintf("%d", nonce),
			"message":   "This message attests that I control the given wallet",
		},
		"ClobAuth",
	)
	if err != nil {
		return "", fmt.Errorf("sign: %w", err)
	}

	return "0x" + common.Bytes2Hex(sig), nil
}

// signTypedData signs EIP-712 typed data and adjusts V to 27/28.
func (a *Auth) signTypedData(
	domain *apitypes.TypedDataDomain,
	typesDef apitypes.Types,
	message apitypes.TypedDataMessage,
	primaryType string,
) ([]byte, error) {
	typedData := apitypes.TypedData{
		Types:       typesDef,
		PrimaryType: primaryType,
		Domain:      *domain,
		Message:     message,
	}

	hash, _, err := apitypes.TypedDataAndHash(typedData)
	if err != nil {
		return nil, fmt.Errorf("typed data hash: %w", err)
	}

	sig, err := crypto.Sign(hash, a.privateKey)
	if err != nil {
		return nil, fmt.Errorf("sign typed data: %w", err)
	}

	if sig[64] < 27 {
		sig[64] += 27
	}
	return sig, nil
}

// buildHMAC computes the HMAC-SHA256 signature for L2 auth.
// message = timestamp + method + requestPath [+ body]
func (a *Auth) buildHMAC(timestamp, method, path, body string) (string, error) {
	decoders := []*base64.Encoding{
		base64.URLEncoding,
		base64.RawURLEncoding,
		base64.StdEncoding,
		base64.RawStdEncoding,
	}

	var secretBytes []byte
	var err error
	for _, dec := range decoders {
		secretBytes, err = dec.DecodeString(a.creds.Secret)
		if err == nil {
			break
		}
	}
	if err != nil {
		return "", fmt.Errorf("decode secret: %w", err)
	}

	message := timestamp + method + path
	if body != "" {
		message += body
	}

	mac := hmac.New(sha256.New, secretBytes)
	mac.Write([]byte(message))
	sig := base64.URLEncoding.EncodeToString(mac.Sum(nil))

	return sig, nil
}

// usdcScale is the venue's fixed-point scale: 6 decimals.
var usdcScale = decimal.New(1, 6)

// AmountsFor converts a price and size to makerAmount and takerAmount as
// integer strings scaled to 6 decimals.
//
// For BUY: makerAmount is USDC paid, takerAmount is tokens received.
// For SELL: makerAmount is tokens given, takerAmount is USDC received.
func AmountsFor(price, size decimal.Decimal, side types.Side) (makerAmt, takerAmt string) {
	sizeRounded := size.RoundDown(2)
	usdc := sizeRounded.Mul(price).RoundDown(4)

	tokenUnits := sizeRounded.Mul(usdcScale).Truncate(0).String()
	usdcUnits := usdc.Mul(usdcScale).Truncate(0).String()

	if side == types.BUY {
		return usdcUnits, tokenUnits
	}
	return tokenUnits, usdcUnits
}
