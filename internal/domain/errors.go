package domain

import (
	"errors"
	"fmt"
)

var (
	ErrValidation          = errors.New("validation failed")
	ErrNotFound            = errors.New("not found")
	ErrConflict            = errors.New("conflict")
	ErrTransientDependency = errors.New("dependency unavailable")
	ErrInvalidState        = errors.New("invalid state")
	ErrForbidden           = errors.New("forbidden")
)

var (
	ErrSlotTaken       = fmt.Errorf("%w: time slot already booked", ErrConflict)
	ErrRoomNotFound    = fmt.Errorf("%w: room not found", ErrNotFound)
	ErrBookingNotFound = fmt.Errorf("%w: booking not found", ErrNotFound)
	ErrPaymentNotFound = fmt.Errorf("%w: payment not found", ErrNotFound)
)
