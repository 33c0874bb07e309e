// Package fault - error classes for the trading workflow
//
// Errors carry their class in their type so handlers can map them to a
// status code with errors.As instead of matching strings.
package fault

import (
	"errors"
	"fmt"
)

// to allow for different classes of errors
type ValidationError string
type PreconditionError string
type NotFoundError string
type ConflictError string

// common errors - keep in alphabetic order
var (
	ErrActionNotRevoke     = ValidationError("Error: this action is not a revoke action")
	ErrActionNotTrade      = ValidationError("Error: this action is not a trade action")
	ErrCodeRequired        = ValidationError("code is required to trade with an unregistered user")
	ErrConfirmNeedsUsers   = ValidationError("userFrom and userTo must be registered users when confirm is set")
	ErrDeviceNotOwned      = ValidationError("devices must belong to you to be traded")
	ErrDevicesNotConfirmed = ValidationError("Some of devices do not have enough to confirm for to do a revoke")
	ErrDevicesNotRevoked   = ValidationError("Some of devices do not have revoke to confirm")
	ErrDevicesRequired     = ValidationError("Devices not exist.")
	ErrLotHasTrade         = ValidationError("lot already belongs to a trade")
	ErrLotNotOwned         = ValidationError("lot does not belong to you")
	ErrNotParticipant      = ValidationError("You do not participate in this trading")
	ErrOwnRevoke           = ValidationError("a revoke must be confirmed by the other side of the trade")
	ErrPrincipalMismatch   = PreconditionError("acting user is not the known side of the trade")
	ErrSameUser            = ValidationError("userFrom and userTo must be different users")
	ErrStaleDevice         = ConflictError("device was modified by a concurrent request")
	ErrUsersRequired       = ValidationError("userFrom or userTo is required")
)

// the error interface methods
func (e ValidationError) Error() string   { return string(e) }
func (e PreconditionError) Error() string { return string(e) }
func (e NotFoundError) Error() string     { return string(e) }
func (e ConflictError) Error() string     { return string(e) }

// NotFound builds a not-found error for a kind of record and its id
func NotFound(kind string, id any) error {
	return NotFoundError(fmt.Sprintf("%s %v not found", kind, id))
}

// Invalid builds a validation error with a formatted message
func Invalid(format string, args ...any) error {
	return ValidationError(fmt.Sprintf(format, args...))
}

// determine the class of an error, looking through wrapping
func IsValidation(err error) bool   { var e ValidationError; return errors.As(err, &e) }
func IsPrecondition(err error) bool { var e PreconditionError; return errors.As(err, &e) }
func IsNotFound(err error) bool     { var e NotFoundError; return errors.As(err, &e) }
func IsConflict(err error) bool     { var e ConflictError; return errors.As(err, &e) }
