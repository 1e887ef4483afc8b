package invoice

import (
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/stretchr/testify/require"
)

func testSigner(priv *btcec.PrivateKey) MessageSigner {
	return MessageSigner{
		SignCompact: func(hash []byte) ([]byte, error) {
			return ecdsa.SignCompact(priv, hash, true), nil
		},
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	var paymentHash [32]byte
	copy(paymentHash[:], []byte("0123456789abcdef0123456789abcde"))

	amt := MilliSatoshi(100_000_000) // 100,000 sat == "1m"
	ts := time.Unix(1700000000, 0)

	bolt11, err := New(&chaincfg.TestNet3Params, paymentHash, ts,
		Amount(amt),
		Description("coffee"),
		Destination(priv.PubKey()),
	)
	require.NoError(t, err)

	encoded, err := bolt11.Encode(testSigner(priv))
	require.NoError(t, err)
	require.NotEmpty(t, encoded)

	decoded, err := Decode(encoded)
	require.NoError(t, err)

	require.Equal(t, paymentHash, *decoded.PaymentHash)
	require.Equal(t, "coffee", *decoded.Description)
	require.Equal(t, amt, *decoded.MilliSat)
	require.True(t, priv.PubKey().IsEqual(decoded.Destination))
	require.Equal(t, ts.Unix(), decoded.Timestamp.Unix())
}

func TestDecodeAmountSuffixes(t *testing.T) {
	cases := []struct {
		amount string
		want   MilliSatoshi
	}{
		{"1", 100_000_000_000},
		{"1m", 100_000_000},
		{"1u", 100_000},
		{"1n", 100},
		{"10p", 1},
	}
	for _, c := range cases {
		got, err := decodeAmount(c.amount)
		require.NoError(t, err, c.amount)
		require.Equal(t, c.want, got, c.amount)
	}
}

func TestDecodeAmountRejectsNonIntegerMsat(t *testing.T) {
	_, err := decodeAmount("1p")
	require.Error(t, err)
}

func TestFromBolt11RecordsDirectionAndExpiry(t *testing.T) {
	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	var paymentHash [32]byte
	copy(paymentHash[:], []byte("fedcba9876543210fedcba9876543210"))

	ts := time.Unix(1700000000, 0)
	bolt11, err := New(&chaincfg.TestNet3Params, paymentHash, ts,
		Description("zap"),
		Destination(priv.PubKey()),
		Expiry(30*time.Minute),
	)
	require.NoError(t, err)

	encoded, err := bolt11.Encode(testSigner(priv))
	require.NoError(t, err)

	now := ts.Add(time.Minute)
	inv, err := FromBolt11(encoded, Outbound, []string{"zap"}, now)
	require.NoError(t, err)

	require.Equal(t, Outbound, inv.Direction)
	require.False(t, inv.Paid)
	require.Equal(t, ts.Add(30*time.Minute), inv.ExpiresAt)
	require.False(t, inv.Expired(now))
	require.True(t, inv.Expired(ts.Add(time.Hour)))

	var preimage [32]byte
	copy(preimage[:], []byte("preimagepreimagepreimagepreimag"))
	inv.MarkSettled(preimage, 5, now.Add(time.Second))
	require.True(t, inv.Paid)
	require.Equal(t, uint64(5), inv.FeesPaidSat)
}

// TestFromKeysendHasNoBolt11Scenario reproduces spec scenario 5: a
// keysend payment's internal record has no bolt11 string, carries the
// fee it paid, and is recorded outbound (inbound=false).
func TestFromKeysendHasNoBolt11Scenario(t *testing.T) {
	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	var paymentHash, preimage [32]byte
	copy(paymentHash[:], []byte("keysendkeysendkeysendkeysendkey"))
	copy(preimage[:], []byte("preimagepreimagepreimagepreimag"))

	now := time.Unix(1700000000, 0)
	inv := FromKeysend(paymentHash, preimage, priv.PubKey(), 1000, 3, []string{"spontaneous"}, now)

	require.Empty(t, inv.Bolt11)
	require.Equal(t, Outbound, inv.Direction)
	require.NotEqual(t, Inbound, inv.Direction)
	require.True(t, inv.Paid)
	require.Equal(t, uint64(3), inv.FeesPaidSat)
	require.Equal(t, uint64(1000), inv.AmountSats)
	require.Equal(t, paymentHash, inv.PaymentHash)
	require.Equal(t, preimage, *inv.Preimage)
	require.Equal(t, now, inv.LastUpdated)
}
