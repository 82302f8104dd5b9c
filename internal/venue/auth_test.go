package venue

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/Ruairih/Prediction-Bot-sub001/pkg/types"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestAmountsForBuy(t *testing.T) {
	t.Parallel()

	// BUY: maker is USDC paid, taker is tokens received, 6-decimal units.
	maker, taker := AmountsFor(dec("0.50"), dec("100"), types.BUY)
	require.Equal(t, "50000000", maker)
	require.Equal(t, "100000000", taker)
}

func TestAmountsForSellMirrorsBuy(t *testing.T) {
	t.Parallel()

	buyMaker, buyTaker := AmountsFor(dec("0.60"), dec("50"), types.BUY)
	sellMaker, sellTaker := AmountsFor(dec("0.60"), dec("50"), types.SELL)
	require.Equal(t, buyMaker, sellTaker)
	require.Equal(t, buyTaker, sellMaker)
}

func TestAmountsForTruncatesSize(t *testing.T) {
	t.Parallel()

	// Size truncates to 2 decimals, USDC cost to 4, before scaling.
	maker, taker := AmountsFor(dec("0.55"), dec("1.999"), types.BUY)
	require.Equal(t, "1094500", maker) // 1.99 * 0.55 = 1.0945
	require.Equal(t, "1990000", taker) // 1.99 tokens
}

func TestBuildHMACDeterministic(t *testing.T) {
	t.Parallel()

	a := &Auth{creds: Credentials{Secret: "c2VjcmV0LWtleQ=="}}

	sig1, err := a.buildHMAC("1700000000", "POST", "/order", `{"x":1}`)
	require.NoError(t, err)
	sig2, err := a.buildHMAC("1700000000", "POST", "/order", `{"x":1}`)
	require.NoError(t, err)
	require.Equal(t, sig1, sig2)

	// Any component change produces a different signature.
	sig3, err := a.buildHMAC("1700000001", "POST", "/order", `{"x":1}`)
	require.NoError(t, err)
	require.NotEqual(t, sig1, sig3)

	sig4, err := a.buildHMAC("1700000000", "DELETE", "/order", `{"x":1}`)
	require.NoError(t, err)
	require.NotEqual(t, sig1, sig4)
}

func TestBuildHMACEmptyBodyOmitted(t *testing.T) {
	t.Parallel()

	a := &Auth{creds: Credentials{Secret: "c2VjcmV0LWtleQ=="}}

	withBody, err := a.buildHMAC("1700000000", "GET", "/balance", "")
	require.NoError(t, err)
	require.NotEmpty(t, withBody)
}
