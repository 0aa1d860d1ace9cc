package backoff

import (
	"math"
	"math/rand/v2"
	"time"
)

// ExponentialJitter returns base*2^(attempt-1) capped at max, with +/- 20% jitter.
func ExponentialJitter(base, max time.Duration, attempt int) time.Duration {
	if attempt <= 0 {
		attempt = 1
	}
	mul := math.Pow(2, float64(attempt-1))
	d := min(time.Duration(float64(base)*mul), max)

	j := time.Duration(float64(d) * 0.2)
	if j <= 0 {
		return d
	}
	return d - j + rand.N(2*j)
}

// Retrier counts consecutive failures and hands out the next delay.
type Retrier struct {
	Base    time.Duration
	Max     time.Duration
	attempt int
}

func (r *Retrier) Next() time.Duration {
	r.attempt++
	return ExponentialJitter(r.Base, r.Max, r.attempt)
}

func (r *Retrier) Reset() { r.attempt = 0 }

func (r *Retrier) Attempt() int { return r.attempt }
