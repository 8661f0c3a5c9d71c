package server

import (
	"errors"
	"net/http"

	"lendledger/core"
	"lendledger/core/types"
	nativecommon "lendledger/native/common"
	"lendledger/native/ledger"
	"lendledger/native/token"
)

var errBadRequest = errors.New("bad request")

func toHTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, errBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, core.ErrTransferFailed):
		return http.StatusUnprocessableEntity
	case errors.Is(err, nativecommon.ErrModulePaused):
		return http.StatusServiceUnavailable
	case errors.Is(err, core.ErrQuotaExceeded):
		return http.StatusTooManyRequests
	case errors.Is(err, ledger.ErrNotFound), errors.Is(err, token.ErrUnknownToken):
		return http.StatusNotFound
	case errors.Is(err, ledger.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, ledger.ErrInsufficientBalance),
		errors.Is(err, ledger.ErrTokenMismatch),
		errors.Is(err, ledger.ErrInvalidTransition),
		errors.Is(err, ledger.ErrAlreadyInitialized),
		errors.Is(err, ledger.ErrCapabilityDisabled):
		return http.StatusConflict
	case errors.Is(err, ledger.ErrArithmetic),
		errors.Is(err, ledger.ErrInvalidAmount),
		errors.Is(err, types.ErrAmountEmpty),
		errors.Is(err, types.ErrAmountSyntax),
		errors.Is(err, types.ErrAmountOverflow),
		errors.Is(err, token.ErrInvalidZeroAmount),
		errors.Is(err, token.ErrInvalidAmount),
		errors.Is(err, token.ErrInvalidToken):
		return http.StatusBadRequest
	case errors.Is(err, token.ErrInsufficientFunds),
		errors.Is(err, token.ErrInsufficientAllowance):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
