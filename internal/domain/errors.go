package domain

import "errors"

var (
	ErrNotFound             = errors.New("not found")
	ErrAlreadyExists        = errors.New("already exists")
	ErrRateLimited          = errors.New("rate limited")
	ErrUnauthorized         = errors.New("unauthorized")
	ErrStaleRate            = errors.New("funding rate snapshot is stale")
	ErrVenueNotFound        = errors.New("venue not registered")
	ErrLeverageNotSupported = errors.New("leverage not supported on this venue")
	ErrShortOnSpotVenue     = errors.New("cannot open a short leg on an unmargined venue")
	ErrInvalidTransition    = errors.New("invalid trade status transition")
	ErrPassInProgress       = errors.New("pass already in progress")
	ErrLockHeld             = errors.New("lock already held")
	ErrSigningFailed        = errors.New("signing failed")
	ErrWSDisconnect         = errors.New("websocket disconnected")
)
