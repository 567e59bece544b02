package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies failures so automation can react without parsing text.
type Kind string

// Error kinds.
const (
	KindValidation          Kind = "validation"           // malformed claim, rejected before any network call
	KindResolution          Kind = "resolution"           // unresolvable issuer/subject reference in a batch
	KindConfiguration       Kind = "configuration"        // no registry (or endpoint) for the chain
	KindSubmission          Kind = "submission"           // ledger rejected or failed to accept the transaction
	KindConfirmationTimeout Kind = "confirmation_timeout" // accepted but unconfirmed at the deadline
	KindQuery               Kind = "query"                // upstream log retrieval failure
)

// Sentinels for errors.Is. Any *Error of the same Kind matches.
var (
	ErrValidation          = errors.New(string(KindValidation))
	ErrResolution          = errors.New(string(KindResolution))
	ErrConfiguration       = errors.New(string(KindConfiguration))
	ErrSubmission          = errors.New(string(KindSubmission))
	ErrConfirmationTimeout = errors.New(string(KindConfirmationTimeout))
	ErrQuery               = errors.New(string(KindQuery))
)

var kindSentinels = map[Kind]error{
	KindValidation:          ErrValidation,
	KindResolution:          ErrResolution,
	KindConfiguration:       ErrConfiguration,
	KindSubmission:          ErrSubmission,
	KindConfirmationTimeout: ErrConfirmationTimeout,
	KindQuery:               ErrQuery,
}

// Error is the structured error returned by the claim client packages.
type Error struct {
	Kind    Kind
	Op      string // operation, e.g. "publish"
	ChainID int64  // 0 when not chain specific
	Field   string // offending claim field
	Index   int    // offending input position, -1 when not applicable
	TxHash  string // transaction involved, if any
	Err     error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(string(e.Kind))
	if e.ChainID != 0 {
		fmt.Fprintf(&b, " chain=%d", e.ChainID)
	}
	if e.Index >= 0 {
		fmt.Fprintf(&b, " index=%d", e.Index)
	}
	if e.Field != "" {
		fmt.Fprintf(&b, " field=%s", e.Field)
	}
	if e.TxHash != "" {
		fmt.Fprintf(&b, " tx=%s", e.TxHash)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the kind sentinels.
func (e *Error) Is(target error) bool {
	s, ok := kindSentinels[e.Kind]
	return ok && s == target
}

// NewError builds an *Error without field or index context.
func NewError(kind Kind, op string, chainID int64, err error) *Error {
	return &Error{Kind: kind, Op: op, ChainID: chainID, Index: -1, Err: err}
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}
