package shared

import (
	"errors"
	"fmt"
)

// Code is the stable machine-readable identifier of a domain failure.
type Code string

const (
	CodeInvalidArgument         Code = "INVALID_ARGUMENT"
	CodeInvalidQuantity         Code = "INVALID_QUANTITY"
	CodeInsufficientStock       Code = "INSUFFICIENT_STOCK"
	CodeInvalidReservation      Code = "INVALID_RESERVATION"
	CodeInvalidStatusTransition Code = "INVALID_STATUS_TRANSITION"
	CodeCouponInactive          Code = "COUPON_INACTIVE"
	CodeCouponNotStarted        Code = "COUPON_NOT_STARTED"
	CodeCouponExpired           Code = "COUPON_EXPIRED"
	CodeUsageLimitExceeded      Code = "USAGE_LIMIT_EXCEEDED"
	CodeMinOrderNotMet          Code = "MIN_ORDER_NOT_MET"
	CodeConcurrentModification  Code = "CONCURRENT_MODIFICATION"
	CodeNotFound                Code = "NOT_FOUND"
	CodeAlreadyExists           Code = "ALREADY_EXISTS"
)

// Error is a business-rule failure. Two errors match under errors.Is when
// their codes are equal, so callers can test against the package sentinels
// regardless of the message.
type Error struct {
	Code    Code
	Message string
}

func NewError(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Message == "" {
		return string(e.Code)
	}
	return e.Message
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || e == nil || t == nil {
		return false
	}
	return e.Code == t.Code
}

// Detailf returns a copy of e with the formatted detail appended to the message.
func (e *Error) Detailf(format string, args ...any) *Error {
	return &Error{Code: e.Code, Message: e.Message + ": " + fmt.Sprintf(format, args...)}
}

// CodeOf extracts the code of the first *Error in err's chain.
func CodeOf(err error) (Code, bool) {
	var de *Error
	if errors.As(err, &de) && de != nil {
		return de.Code, true
	}
	return "", false
}

var (
	ErrInvalidStatusTransition = NewError(CodeInvalidStatusTransition, "invalid status transition")
	ErrConcurrentModification  = NewError(CodeConcurrentModification, "concurrent modification")
	ErrNotFound                = NewError(CodeNotFound, "not found")
	ErrAlreadyExists           = NewError(CodeAlreadyExists, "already exists")
)
