package domain

import "errors"

var (
	ErrBusinessNotFound   = errors.New("business not found")
	ErrBusinessInactive   = errors.New("business loyalty program is not active")
	ErrMemberNotFound     = errors.New("member not found")
	ErrInvalidIdentity    = errors.New("invalid identity")
	ErrInvalidStampCount  = errors.New("stamp count must be at least 1")
	ErrDuplicateScan      = errors.New("scan already credited")
	ErrSilentWriteFailure = errors.New("member write was not observable after commit")
	ErrInCooldown         = errors.New("scan is within the cooldown window")
)
