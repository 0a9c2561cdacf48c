package domain

import "errors"

// ─── Sentinel Errors ────────────────────────────────────────────────────────
// Domain errors are pure, with no infrastructure dependency.

var (
	// State store errors
	ErrStateUnavailable = errors.New("state store unavailable")
	ErrInvalidKey       = errors.New("invalid state key")

	// Challenge errors
	ErrChallengeNotFound    = errors.New("challenge not found")
	ErrChallengeCompleted   = errors.New("challenge already completed")
	ErrChallengeExpired     = errors.New("challenge has expired")
	ErrChallengeAutoTracked = errors.New("challenge progress is tracked automatically")

	// Notification errors
	ErrNotificationNotFound = errors.New("notification not found")
	ErrInvalidSettings      = errors.New("invalid notification settings")

	// Points errors
	ErrInsufficientPoints = errors.New("insufficient points")
	ErrInvalidAmount      = errors.New("points amount must be positive")
	ErrRewardNotFound     = errors.New("reward not found")

	// Input errors
	ErrMissingPartner     = errors.New("partner id is required")
	ErrMissingPartnership = errors.New("partnership id is required")
)
