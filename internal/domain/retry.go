package domain

import (
	"math"
	"time"
)

type RetryPolicy struct {
	MaxRetries   int           `json:"max_retries" yaml:"max_retries"`
	InitialDelay time.Duration `json:"initial_delay" yaml:"initial_delay"`
	MaxDelay     time.Duration `json:"max_delay" yaml:"max_delay"`
	Multiplier   float64       `json:"multiplier" yaml:"multiplier"`
	Exponential  bool          `json:"exponential" yaml:"exponential"`
}

// Delay computes the backoff before retry attempt n (0-indexed), saturating
// at MaxDelay.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if !p.Exponential {
		return p.InitialDelay
	}

	delay := time.Duration(float64(p.InitialDelay) * math.Pow(p.Multiplier, float64(attempt)))
	if delay > p.MaxDelay || delay < 0 {
		return p.MaxDelay
	}
	return delay
}

func (p RetryPolicy) CanRetry(retryCount int) bool {
	return retryCount < p.MaxRetries
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:   3,
		InitialDelay: time.Second,
		MaxDelay:     10 * time.Second,
		Multiplier:   2.0,
		Exponential:  true,
	}
}

func AggressiveRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:   5,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Multiplier:   1.5,
		Exponential:  true,
	}
}

func ConservativeRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:   2,
		InitialDelay: 2 * time.Second,
		MaxDelay:     20 * time.Second,
		Multiplier:   3.0,
		Exponential:  true,
	}
}
