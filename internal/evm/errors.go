package evm

import (
	"errors"
	"fmt"
	"strings"
)

// RPCError is a JSON-RPC 2.0 error object returned by the node.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("RPC error %d: %s", e.Code, e.Message)
}

// Provider codes and messages used when a log query matches too much.
const codeLimitExceeded = -32005

var limitMessages = []string{
	"query returned more than",
	"too many results",
	"limit exceeded",
	"block range is too wide",
	"block range too large",
	"response size exceeded",
}

// IsLimitExceeded reports whether err is a provider refusing a log query as too large.
func IsLimitExceeded(err error) bool {
	var rpcErr *RPCError
	if !errors.As(err, &rpcErr) {
		return false
	}
	if rpcErr.Code == codeLimitExceeded {
		return true
	}
	msg := strings.ToLower(rpcErr.Message)
	for _, m := range limitMessages {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}
