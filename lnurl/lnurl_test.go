package lnurl

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/stretchr/testify/require"
)

func TestExtractK1(t *testing.T) {
	url := "https://example.com/auth?tag=login&k1=" +
		"0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcd"
	k1, err := ExtractK1(url)
	require.NoError(t, err)
	require.Equal(t, byte(0x01), k1[0])
	require.Equal(t, byte(0xcd), k1[31])
}

func TestExtractK1RejectsWrongLength(t *testing.T) {
	_, err := ExtractK1("https://example.com/auth?k1=abcd")
	require.Error(t, err)
}

func TestAuthPostsValidSignature(t *testing.T) {
	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	var gotSig, gotKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSig = r.URL.Query().Get("sig")
		gotKey = r.URL.Query().Get("key")
		w.Write([]byte(`{"status":"OK"}`))
	}))
	defer srv.Close()

	authURL := srv.URL + "/auth?tag=login&k1=0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcd"
	err = Auth(context.Background(), nil, authURL, priv)
	require.NoError(t, err)
	require.NotEmpty(t, gotSig)
	require.NotEmpty(t, gotKey)
}
