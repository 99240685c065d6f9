package meeting

import "errors"

var (
	// ErrProviderAuth means the token exchange or refresh failed twice in a
	// row. Fatal for the current poll cycle; the next tick retries.
	ErrProviderAuth = errors.New("meeting provider auth failed")

	// ErrRateLimited means the provider throttled the request. The cycle
	// ends early; writes already performed stand.
	ErrRateLimited = errors.New("meeting provider rate limited")

	// ErrTooSoon means the caller polled faster than the configured minimum
	// spacing. Treated as a skipped poll, not a failure.
	ErrTooSoon = errors.New("live poll requested too soon")
)
