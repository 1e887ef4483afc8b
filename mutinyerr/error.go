// Package mutinyerr defines the discriminated error taxonomy surfaced by
// the node manager to its callers. It intentionally has no numeric codes:
// callers are expected to switch on Code.
package mutinyerr

import (
	"errors"
	"fmt"

	goerrors "github.com/go-errors/errors"
)

// Code identifies the kind of failure a Manager operation can report.
type Code int

const (
	// Other wraps an error that doesn't fit any of the named codes.
	Other Code = iota
	AlreadyRunning
	NotRunning
	FundingTxCreationFailed
	ConnectionFailed
	NonUniquePaymentHash
	InvoiceInvalid
	InvoiceCreationFailed
	RoutingFailed
	PeerInfoParseFailed
	ChannelCreationFailed
	ChannelClosingFailed
	PersistenceFailed
	ReadError
	WalletOperationFailed
	WalletSigningFailed
	ChainAccessFailed
	IncorrectNetwork
	IncorrectLnUrlFunction
	LnUrlFailure
	PubkeyInvalid
	NotFound
	BitcoinPriceError
)

var codeNames = map[Code]string{
	Other:                   "Other",
	AlreadyRunning:          "AlreadyRunning",
	NotRunning:              "NotRunning",
	FundingTxCreationFailed: "FundingTxCreationFailed",
	ConnectionFailed:        "ConnectionFailed",
	NonUniquePaymentHash:    "NonUniquePaymentHash",
	InvoiceInvalid:          "InvoiceInvalid",
	InvoiceCreationFailed:   "InvoiceCreationFailed",
	RoutingFailed:           "RoutingFailed",
	PeerInfoParseFailed:     "PeerInfoParseFailed",
	ChannelCreationFailed:   "ChannelCreationFailed",
	ChannelClosingFailed:    "ChannelClosingFailed",
	PersistenceFailed:       "PersistenceFailed",
	ReadError:               "ReadError",
	WalletOperationFailed:   "WalletOperationFailed",
	WalletSigningFailed:     "WalletSigningFailed",
	ChainAccessFailed:       "ChainAccessFailed",
	IncorrectNetwork:        "IncorrectNetwork",
	IncorrectLnUrlFunction:  "IncorrectLnUrlFunction",
	LnUrlFailure:            "LnUrlFailure",
	PubkeyInvalid:           "PubkeyInvalid",
	NotFound:                "NotFound",
	BitcoinPriceError:       "BitcoinPriceError",
}

func (c Code) String() string {
	if name, ok := codeNames[c]; ok {
		return name
	}
	return "Unknown"
}

// Error is the concrete error type returned to callers of the node
// manager. Network carries the offending network name when Code is
// IncorrectNetwork, mirroring the spec's IncorrectNetwork(network) variant.
type Error struct {
	Code    Code
	Network string
	Err     error
}

func (e *Error) Error() string {
	if e.Code == IncorrectNetwork {
		return fmt.Sprintf("incorrect network: %s", e.Network)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Code, e.Err)
	}
	return e.Code.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New builds a bare Error carrying only a Code.
func New(code Code) *Error {
	return &Error{Code: code}
}

// Wrap builds an Error that carries Code and wraps err with a stack trace
// captured via go-errors, matching the teacher's convention of preserving
// stack traces for storage/IO failures.
func Wrap(code Code, err error) *Error {
	if err == nil {
		return New(code)
	}
	return &Error{Code: code, Err: goerrors.Wrap(err, 1)}
}

// IncorrectNetworkErr builds the IncorrectNetwork(network) variant.
func IncorrectNetworkErr(network string) *Error {
	return &Error{Code: IncorrectNetwork, Network: network}
}

// Is reports whether err is a *Error with the given code.
func Is(err error, code Code) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}
