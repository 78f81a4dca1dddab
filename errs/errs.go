// Package errs enumerates the typed error kinds admission endpoints and
// background components surface to callers, per the error handling design.
package errs

import (
	"errors"
	"fmt"
)

// Kind is a machine-readable error code. The string value is the wire
// representation used by admission endpoints and CLI remediation hints.
type Kind string

const (
	ConfigInvalid       Kind = "config_invalid"
	CryptoFailure       Kind = "crypto_failure"
	SignatureInvalid    Kind = "signature_invalid"
	NonceOutOfOrder     Kind = "nonce_out_of_order"
	InsufficientFunds   Kind = "insufficient_funds"
	QuotaExceeded       Kind = "quota_exceeded"
	Timeout             Kind = "timeout"
	NotFound            Kind = "not_found"
	DuplicateSubmission Kind = "duplicate_submission"
	PeerMisbehavior     Kind = "peer_misbehavior"
	DriftExceeded       Kind = "drift_exceeded"
	ChaosDrop           Kind = "chaos_drop"
	StorageProofFailed  Kind = "storage_proof_failed"
	ChainNotSupported   Kind = "chain_not_supported"
	VerificationFailed  Kind = "verification_failed"
)

// Coded is a typed error with a machine-readable Kind and a human string,
// the shape every admission endpoint returns on failure.
type Coded struct {
	Kind Kind
	Msg  string
	err  error
}

func (c *Coded) Error() string {
	if c.Msg == "" {
		return string(c.Kind)
	}
	return fmt.Sprintf("%s: %s", c.Kind, c.Msg)
}

func (c *Coded) Unwrap() error { return c.err }

// New builds a Coded error for the given kind with a formatted message.
func New(kind Kind, format string, args ...any) *Coded {
	return &Coded{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap attaches a Kind to an existing error, preserving it for errors.Is/As.
func Wrap(kind Kind, err error, format string, args ...any) *Coded {
	return &Coded{Kind: kind, Msg: fmt.Sprintf(format, args...), err: err}
}

// Is reports whether err carries the given Kind.
func Is(err error, kind Kind) bool {
	var c *Coded
	if errors.As(err, &c) {
		return c.Kind == kind
	}
	return false
}
