package ledger

import (
	"errors"

	"github.com/R3E-Network/payroll_ledger/internal/app/storage"
)

// Error taxonomy. Scheduling-time errors abort the whole batch with no
// state change; execution-time errors are isolated per index inside the
// returned report; administrative errors abort their single operation.
var (
	ErrUnauthorized   = errors.New("unauthorized")
	ErrPaused         = errors.New("ledger is paused")
	ErrLengthMismatch = errors.New("batch input lengths differ")
	ErrInvalidAmount  = errors.New("invalid amount")
	ErrValueMismatch  = errors.New("attached native value does not match batch total")
	ErrTransferFailed = errors.New("transfer failed")
	ErrInvalidRange   = errors.New("invalid execution range")

	ErrInsufficientEscrow = storage.ErrInsufficientEscrow
	ErrAlreadyExecuted    = storage.ErrAlreadyExecuted
	ErrNotFound           = storage.ErrNotFound
)
