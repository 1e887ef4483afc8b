// Package lnurl implements the LN-URL pay/withdraw/auth dispatch the
// node manager's external-service glue depends on (SPEC_FULL.md §4.6).
// Grounded on original_source's lnurl_pay/lnurl_withdraw/lnurl_auth and
// the teacher's btcec.SignCompact signing idiom (server.go, zpay32).
package lnurl

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/btcutil/bech32"

	"github.com/mplsgrant/mutiny-node/mutinyerr"
)

// Tag identifies the LN-URL flow a fetched endpoint declares.
type Tag string

const (
	TagPayRequest      Tag = "payRequest"
	TagWithdrawRequest Tag = "withdrawRequest"
	TagChannelRequest  Tag = "channelRequest"
)

// Response is the first-hop JSON an LN-URL HTTPS endpoint returns,
// dispatched on Tag.
type Response struct {
	Tag Tag `json:"tag"`

	// payRequest fields
	Callback       string `json:"callback"`
	MinSendable    uint64 `json:"minSendable"`
	MaxSendable    uint64 `json:"maxSendable"`
	Metadata       string `json:"metadata"`

	// withdrawRequest fields
	K1                 string `json:"k1"`
	MinWithdrawable    uint64 `json:"minWithdrawable"`
	MaxWithdrawable    uint64 `json:"maxWithdrawable"`
	DefaultDescription string `json:"defaultDescription"`

	// error responses (all tags)
	Status string `json:"status"`
	Reason string `json:"reason"`
}

func (r *Response) checkError() error {
	if strings.EqualFold(r.Status, "ERROR") {
		return fmt.Errorf("lnurl: service error: %s", r.Reason)
	}
	return nil
}

// Decode converts a bech32-encoded lnurl string into its HTTPS URL, per
// LUD-01.
func Decode(lnurl string) (string, error) {
	hrp, data, err := bech32.DecodeNoLimit(strings.ToLower(lnurl))
	if err != nil {
		return "", mutinyerr.Wrap(mutinyerr.LnUrlFailure, err)
	}
	if hrp != "lnurl" {
		return "", mutinyerr.New(mutinyerr.LnUrlFailure)
	}
	raw, err := bech32.ConvertBits(data, 5, 8, false)
	if err != nil {
		return "", mutinyerr.Wrap(mutinyerr.LnUrlFailure, err)
	}
	return string(raw), nil
}

// Fetch performs the GET against endpoint and parses the response.
func Fetch(ctx context.Context, client *http.Client, endpoint string) (*Response, error) {
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, mutinyerr.Wrap(mutinyerr.LnUrlFailure, err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, mutinyerr.Wrap(mutinyerr.LnUrlFailure, err)
	}
	defer resp.Body.Close()

	var out Response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, mutinyerr.Wrap(mutinyerr.LnUrlFailure, err)
	}
	if err := out.checkError(); err != nil {
		return nil, mutinyerr.Wrap(mutinyerr.LnUrlFailure, err)
	}
	return &out, nil
}

type payCallbackResponse struct {
	PR     string `json:"pr"`
	Status string `json:"status"`
	Reason string `json:"reason"`
}

// Pay completes a payRequest flow: calls resp.Callback with the chosen
// amount and returns the BOLT-11 invoice to pay.
func Pay(ctx context.Context, client *http.Client, resp *Response, amountMsat uint64) (string, error) {
	if resp.Tag != TagPayRequest {
		return "", mutinyerr.New(mutinyerr.IncorrectLnUrlFunction)
	}
	if amountMsat < resp.MinSendable || (resp.MaxSendable > 0 && amountMsat > resp.MaxSendable) {
		return "", mutinyerr.New(mutinyerr.LnUrlFailure)
	}

	u, err := url.Parse(resp.Callback)
	if err != nil {
		return "", mutinyerr.Wrap(mutinyerr.LnUrlFailure, err)
	}
	q := u.Query()
	q.Set("amount", fmt.Sprintf("%d", amountMsat))
	u.RawQuery = q.Encode()

	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return "", mutinyerr.Wrap(mutinyerr.LnUrlFailure, err)
	}
	httpResp, err := client.Do(req)
	if err != nil {
		return "", mutinyerr.Wrap(mutinyerr.LnUrlFailure, err)
	}
	defer httpResp.Body.Close()

	var out payCallbackResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&out); err != nil {
		return "", mutinyerr.Wrap(mutinyerr.LnUrlFailure, err)
	}
	if strings.EqualFold(out.Status, "ERROR") {
		return "", fmt.Errorf("lnurl: pay callback error: %s", out.Reason)
	}
	if out.PR == "" {
		return "", mutinyerr.New(mutinyerr.LnUrlFailure)
	}
	return out.PR, nil
}

type withdrawCallbackResponse struct {
	Status string `json:"status"`
	Reason string `json:"reason"`
}

// Withdraw completes a withdrawRequest flow: posts the paid bolt11 plus
// the challenge k1 to resp.Callback.
func Withdraw(ctx context.Context, client *http.Client, resp *Response, bolt11 string) error {
	if resp.Tag != TagWithdrawRequest {
		return mutinyerr.New(mutinyerr.IncorrectLnUrlFunction)
	}

	u, err := url.Parse(resp.Callback)
	if err != nil {
		return mutinyerr.Wrap(mutinyerr.LnUrlFailure, err)
	}
	q := u.Query()
	q.Set("k1", resp.K1)
	q.Set("pr", bolt11)
	u.RawQuery = q.Encode()

	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return mutinyerr.Wrap(mutinyerr.LnUrlFailure, err)
	}
	httpResp, err := client.Do(req)
	if err != nil {
		return mutinyerr.Wrap(mutinyerr.LnUrlFailure, err)
	}
	defer httpResp.Body.Close()

	var out withdrawCallbackResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&out); err != nil {
		return mutinyerr.Wrap(mutinyerr.LnUrlFailure, err)
	}
	if strings.EqualFold(out.Status, "ERROR") {
		return fmt.Errorf("lnurl: withdraw callback error: %s", out.Reason)
	}
	return nil
}

// ExtractK1 pulls and validates the 32-byte hex k1 challenge from an
// lnurl-auth URL's query string, per LUD-03.
func ExtractK1(authURL string) ([32]byte, error) {
	u, err := url.Parse(authURL)
	if err != nil {
		return [32]byte{}, mutinyerr.Wrap(mutinyerr.LnUrlFailure, err)
	}
	raw := u.Query().Get("k1")
	decoded, err := hex.DecodeString(raw)
	if err != nil || len(decoded) != 32 {
		return [32]byte{}, mutinyerr.New(mutinyerr.LnUrlFailure)
	}
	var k1 [32]byte
	copy(k1[:], decoded)
	return k1, nil
}

type authCallbackResponse struct {
	Status string `json:"status"`
	Reason string `json:"reason"`
}

// Auth completes an lnurl-auth flow (LUD-03): extracts k1, signs
// sha256(url+k1) with the profile-indexed key, and POSTs the DER
// signature plus the compressed pubkey as query parameters.
func Auth(ctx context.Context, client *http.Client, authURL string, key *btcec.PrivateKey) error {
	k1, err := ExtractK1(authURL)
	if err != nil {
		return err
	}

	hash := sha256.Sum256(append([]byte(authURL), k1[:]...))
	sig := ecdsa.Sign(key, hash[:])

	u, err := url.Parse(authURL)
	if err != nil {
		return mutinyerr.Wrap(mutinyerr.LnUrlFailure, err)
	}
	q := u.Query()
	q.Set("sig", hex.EncodeToString(sig.Serialize()))
	q.Set("key", hex.EncodeToString(key.PubKey().SerializeCompressed()))
	u.RawQuery = q.Encode()

	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), nil)
	if err != nil {
		return mutinyerr.Wrap(mutinyerr.LnUrlFailure, err)
	}
	httpResp, err := client.Do(req)
	if err != nil {
		return mutinyerr.Wrap(mutinyerr.LnUrlFailure, err)
	}
	defer httpResp.Body.Close()

	var out authCallbackResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&out); err != nil {
		return mutinyerr.Wrap(mutinyerr.LnUrlFailure, err)
	}
	if strings.EqualFold(out.Status, "ERROR") {
		return fmt.Errorf("lnurl: auth rejected: %s", out.Reason)
	}
	return nil
}
