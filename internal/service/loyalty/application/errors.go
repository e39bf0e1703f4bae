package application

import "errors"

var (
	ErrInvalidInterval   = errors.New("sweep interval must be positive")
	ErrSweepInProgress   = errors.New("an expiry sweep is already running")
	ErrLeaseNotAcquired  = errors.New("expiry sweep lease is held by another process")
	ErrBalanceUnverified = errors.New("credit written but balance could not be re-read")
)
