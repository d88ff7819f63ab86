package errors

import (
	stderrors "errors"
)

// Error is a user-facing failure with a stable code. Front-ends localize by
// Code; Msg is for logs and developers only.
type Error struct {
	Code string
	Msg  string
}

func (e *Error) Error() string {
	return e.Msg
}

func New(code, msg string) *Error {
	return &Error{Code: code, Msg: msg}
}

const CodeInternal = "INTERNAL"

var (
	ErrUnauthorized = New("UNAUTHORIZED", "unauthorized")

	// operators
	ErrOperatorNotFound = New("OPERATOR_NOT_FOUND", "operator not found")
	ErrOperatorDisabled = New("OPERATOR_DISABLED", "operator is disabled")
	ErrInvalidPassword  = New("INVALID_PASSWORD", "invalid username or password")

	// room lifecycle
	ErrRoomNotFound     = New("ROOM_NOT_FOUND", "room not found")
	ErrNotInRoom        = New("NOT_IN_ROOM", "user is not seated in this room")
	ErrSeatFull         = New("SEAT_FULL", "room has no free seat")
	ErrAlreadyStarted   = New("ALREADY_STARTED", "room already started")
	ErrNotYourTurn      = New("NOT_YOUR_TURN", "not your turn")
	ErrInvalidMove      = New("INVALID_MOVE", "invalid move")
	ErrNotHost          = New("NOT_HOST", "only the host may do this")
	ErrInvalidState     = New("INVALID_STATE", "action not allowed in current room state")
	ErrUnsupportedGame  = New("UNSUPPORTED_GAME", "unsupported game type")
	ErrInvalidWager     = New("INVALID_WAGER", "invalid wager")
	ErrNotEnoughPlayers = New("NOT_ENOUGH_PLAYERS", "not enough players to start")
	ErrInvalidConfig    = New("INVALID_CONFIG", "invalid game configuration")
	ErrHoldsLiveRoom    = New("HOLDS_LIVE_ROOM", "user already holds a live room of this game type")

	// ledger
	ErrInsufficientFunds = New("INSUFFICIENT_FUNDS", "insufficient funds")
	ErrReserveExhausted  = New("RESERVE_EXHAUSTED", "reserve exhausted")
	ErrInvalidAmount     = New("INVALID_AMOUNT", "amount must be positive")
	ErrInvalidAccount    = New("INVALID_ACCOUNT", "invalid account")
	ErrInvalidCurrency   = New("INVALID_CURRENCY", "invalid currency")

	// escrow & settlement; ErrAlreadySettled only signals a replay internally
	ErrAlreadySettled = New("ALREADY_SETTLED", "round already settled")
	ErrPaymentFailed  = New("PAYMENT_FAILED", "stake collection failed")
	ErrInvalidSplit   = New("INVALID_SPLIT", "payout split could not be computed")

	// number call
	ErrInvalidClaim = New("INVALID_CLAIM", "claim does not match a winning pattern")

	// ticket draw
	ErrSlotUnavailable     = New("SLOT_UNAVAILABLE", "slot is not available")
	ErrReservationNotFound = New("RESERVATION_NOT_FOUND", "no reservation held for this slot")
	ErrReservationExpired  = New("RESERVATION_EXPIRED", "reservation expired")
)

// CodeOf returns the stable code carried by err, or CodeInternal.
func CodeOf(err error) string {
	if err == nil {
		return ""
	}
	var appErr *Error
	if stderrors.As(err, &appErr) {
		return appErr.Code
	}
	return CodeInternal
}

// IsDomain reports whether err carries a stable code. Domain errors are
// final; anything else may be transient.
func IsDomain(err error) bool {
	var appErr *Error
	return stderrors.As(err, &appErr)
}
