package domain

import (
	"errors"
	"fmt"
)

// Domain errors
var (
	ErrSubscriptionNotFound     = errors.New("subscription not found")
	ErrGameSubscriptionNotFound = errors.New("game subscription not found")
	ErrMalformedSubscription    = errors.New("malformed subscription data")
	ErrInvalidRequest           = errors.New("invalid request")
	ErrUnknownLeague            = errors.New("unknown league")
	ErrStateConflict            = errors.New("game state modified concurrently")
	ErrUpstreamRateLimited      = errors.New("upstream rate limited")
	ErrDeliveryExpired          = errors.New("push endpoint expired")
	ErrDeliveryTransient        = errors.New("push delivery failed")
	ErrInternalError            = errors.New("internal server error")
)

// IsNotFoundError checks if an error is a not-found type error
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrSubscriptionNotFound) || errors.Is(err, ErrGameSubscriptionNotFound)
}

// UpstreamFetchError reports a failed scoreboard or summary fetch
type UpstreamFetchError struct {
	League     League
	GameID     string
	StatusCode int
	Err        error
}

func (e *UpstreamFetchError) Error() string {
	target := string(e.League)
	if e.GameID != "" {
		target += "/" + e.GameID
	}
	if e.StatusCode > 0 {
		return fmt.Sprintf("upstream fetch %s (status=%d): %v", target, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("upstream fetch %s: %v", target, e.Err)
}

func (e *UpstreamFetchError) Unwrap() error {
	return e.Err
}

// AsUpstreamFetchError attempts to unwrap an error into an UpstreamFetchError
func AsUpstreamFetchError(err error) (*UpstreamFetchError, bool) {
	var fetchErr *UpstreamFetchError
	if errors.As(err, &fetchErr) {
		return fetchErr, true
	}
	return nil, false
}

// StoreError reports a failed read or write of a single store key
type StoreError struct {
	Op  string
	Key string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s %s: %v", e.Op, e.Key, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// IsStoreError reports whether err came from the state store
func IsStoreError(err error) bool {
	var storeErr *StoreError
	return errors.As(err, &storeErr)
}
