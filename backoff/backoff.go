// Package backoff implements the Fibonacci delay shared by every retry decision of the
// dispatcher: fetch retries, acknowledgement retries and redelivery visibility timeouts.
// All functions are pure and safe for concurrent use.
package backoff

import (
	"math"
	"time"
)

// Strategy computes the delay before a retry attempt.
type Strategy interface {
	// Delay returns how long to wait after the attempt-th consecutive failure (0-indexed).
	Delay(attempt int) time.Duration
}

// Fibonacci returns the attempt-th number of the sequence 1, 1, 2, 3, 5, 8, ...
// Attempts below 1 yield 0. The value saturates at math.MaxInt instead of overflowing.
func Fibonacci(attempt int) int {
	return fibonacci(attempt, 0, false)
}

// FibonacciCapped is Fibonacci limited to maxDelay.
// A maxDelay of 0 (or below) means no delay is wanted at all and always yields 0.
func FibonacciCapped(attempt, maxDelay int) int {
	return fibonacci(attempt, maxDelay, true)
}

func fibonacci(n, maxDelay int, capped bool) int {
	if n < 1 || (capped && maxDelay <= 0) {
		return 0
	}

	if n <= 2 {
		return 1
	}

	prev, curr := 1, 1
	for i := 3; i <= n; i++ {
		if curr > math.MaxInt-prev {
			curr = math.MaxInt
		} else {
			prev, curr = curr, prev+curr
		}

		if capped && curr > maxDelay {
			return maxDelay
		}

		if curr == math.MaxInt {
			break
		}
	}

	return curr
}

// ──────────────────────────────────────────────────
// Strategies
// ──────────────────────────────────────────────────

// FibonacciStrategy scales Fibonacci numbers by Unit. It is never capped.
type FibonacciStrategy struct {
	Unit time.Duration
}

// NewFibonacci creates an uncapped Fibonacci strategy.
func NewFibonacci(unit time.Duration) *FibonacciStrategy {
	return &FibonacciStrategy{Unit: unit}
}

// Delay returns Fibonacci(attempt) * Unit.
func (f *FibonacciStrategy) Delay(attempt int) time.Duration {
	return scale(Fibonacci(attempt), f.Unit)
}

// CappedFibonacciStrategy scales Fibonacci numbers by Unit, never exceeding Max units.
type CappedFibonacciStrategy struct {
	Unit time.Duration
	Max  int
}

// NewCappedFibonacci creates a Fibonacci strategy capped at maxDelay units.
func NewCappedFibonacci(unit time.Duration, maxDelay int) *CappedFibonacciStrategy {
	return &CappedFibonacciStrategy{Unit: unit, Max: maxDelay}
}

// Delay returns FibonacciCapped(attempt, Max) * Unit.
func (c *CappedFibonacciStrategy) Delay(attempt int) time.Duration {
	return scale(FibonacciCapped(attempt, c.Max), c.Unit)
}

func scale(n int, unit time.Duration) time.Duration {
	if n == 0 || unit <= 0 {
		return 0
	}

	if int64(n) > math.MaxInt64/int64(unit) {
		return time.Duration(math.MaxInt64)
	}

	return time.Duration(n) * unit
}
