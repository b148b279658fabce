package fetch

import "time"

// Policy bounds the retry loop for one request.
type Policy struct {
	MaxAttempts      int
	RateLimitBackoff time.Duration // multiplied by the attempt number after a 429
	NetworkBackoff   time.Duration // multiplied by the attempt number after a transport error
}

// DefaultMaxAttempts is the attempt budget of both built-in policies.
const DefaultMaxAttempts = 5

// AssetPolicy is used for CDN mesh, material and texture payloads.
func AssetPolicy() Policy {
	return Policy{
		MaxAttempts:      DefaultMaxAttempts,
		RateLimitBackoff: 800 * time.Millisecond,
		NetworkBackoff:   350 * time.Millisecond,
	}
}

// JSONPolicy is used for identity and descriptor lookups.
func JSONPolicy() Policy {
	return Policy{
		MaxAttempts:      DefaultMaxAttempts,
		RateLimitBackoff: 1000 * time.Millisecond,
		NetworkBackoff:   400 * time.Millisecond,
	}
}

func (p Policy) normalized() Policy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultMaxAttempts
	}
	return p
}

// WithMaxAttempts returns a copy of p with a different attempt budget.
func (p Policy) WithMaxAttempts(n int) Policy {
	if n > 0 {
		p.MaxAttempts = n
	}
	return p
}
