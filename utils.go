package store

import (
	"github.com/go-kit/kit/log"
	"math/rand"
	"time"
)

func CheckWarn(e error, logger log.Logger) bool {
	if e != nil {
		logger.Log("msg", "Warning", "error", e)
		return true
	}
	return false
}

type DebugLogFunc func(log.Logger, ...interface{})

var DebugLog = DebugLogFunc(func(log.Logger, ...interface{}) {})

type EmptyStruct struct{}

var EmptyStructVal = EmptyStruct{}

func (es EmptyStruct) String() string { return "" }

// BinaryBackoffEngine is an unbounded, capped, randomized exponential
// backoff: each Advance doubles the window (capped at max) and draws
// the next wait uniformly from it.
type BinaryBackoffEngine struct {
	rng    *rand.Rand
	min    time.Duration
	max    time.Duration
	period time.Duration
	Cur    time.Duration
}

func NewBinaryBackoffEngine(rng *rand.Rand, min, max time.Duration) *BinaryBackoffEngine {
	if min <= 0 {
		return nil
	}
	return &BinaryBackoffEngine{
		rng:    rng,
		min:    min,
		max:    max,
		period: min,
		Cur:    0,
	}
}

func (bbe *BinaryBackoffEngine) Advance() time.Duration {
	oldCur := bbe.Cur
	bbe.period *= 2
	if bbe.period > bbe.max {
		bbe.period = bbe.max
	}
	bbe.Cur = time.Duration(bbe.rng.Intn(int(bbe.period)))
	return oldCur
}

func (bbe *BinaryBackoffEngine) After(fun func()) {
	if duration := bbe.Cur; duration == 0 {
		fun()
	} else {
		time.AfterFunc(duration, fun)
	}
}

func (bbe *BinaryBackoffEngine) Shrink(roundToZero time.Duration) {
	bbe.period /= 2
	if bbe.period < bbe.min {
		bbe.period = bbe.min
	}
	bbe.Cur = time.Duration(bbe.rng.Intn(int(bbe.period)))
	if bbe.Cur <= roundToZero {
		bbe.Cur = 0
	}
}

// RetryBackoff adds a bounded retry count to a BinaryBackoffEngine, for
// callers (the Proposer's Open state, the ScanDirector's rouse loop)
// that must give up loudly once a fixed number of retries is spent
// rather than backing off forever.
type RetryBackoff struct {
	*BinaryBackoffEngine
	retries, maxRetries int
}

func NewRetryBackoff(rng *rand.Rand, min, max time.Duration, maxRetries int) *RetryBackoff {
	return &RetryBackoff{
		BinaryBackoffEngine: NewBinaryBackoffEngine(rng, min, max),
		maxRetries:          maxRetries,
	}
}

// Fire returns false once the retry budget is exhausted; otherwise it
// advances the backoff, schedules fun after the resulting delay, and
// returns true.
func (rb *RetryBackoff) Fire(fun func()) bool {
	if rb.retries >= rb.maxRetries {
		return false
	}
	rb.retries++
	rb.Advance()
	rb.After(fun)
	return true
}

func (rb *RetryBackoff) Exhausted() bool {
	return rb.retries >= rb.maxRetries
}

// Reset clears the spent retry count, for a caller (the ScanDirector's
// rouse loop) that wants a fresh retry budget once it has observed
// real progress rather than letting stalls-then-progress-then-stalls
// eventually exhaust a budget that was mostly spent on an earlier,
// already-resolved stall.
func (rb *RetryBackoff) Reset() {
	rb.retries = 0
}
