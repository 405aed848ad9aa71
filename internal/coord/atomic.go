package coord

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"time"
)

// RetryNTimes bounds the optimistic retries of a single atomic operation.
type RetryNTimes struct {
	Attempts int
	Sleep    time.Duration
}

// DefaultRetry matches the policy counters have always been written with.
func DefaultRetry() RetryNTimes {
	return RetryNTimes{Attempts: 10, Sleep: 10 * time.Millisecond}
}

// allowRetry reports whether another attempt may follow attempt (0-based).
func (r RetryNTimes) allowRetry(attempt int) bool {
	return attempt+1 < r.Attempts
}

// AtomicValue is the outcome of an atomic operation.
//
// PreValue and PostValue are only meaningful when Succeeded is true.
type AtomicValue struct {
	Succeeded bool
	PreValue  int64
	PostValue int64
}

// AtomicLong is an optimistic compare-and-set counter stored at one path.
type AtomicLong struct {
	client Client
	path   string
	retry  RetryNTimes
}

// NewAtomicLong binds a counter to path.
func NewAtomicLong(client Client, path string, retry RetryNTimes) *AtomicLong {
	if retry.Attempts <= 0 {
		retry = DefaultRetry()
	}
	return &AtomicLong{client: client, path: path, retry: retry}
}

// Path returns the bound path.
func (a *AtomicLong) Path() string {
	return a.path
}

// Get reads the current value. A missing node returns ErrNoNode unwrapped.
func (a *AtomicLong) Get(ctx context.Context) (AtomicValue, error) {
	data, _, err := a.client.Get(ctx, a.path)
	if err != nil {
		if errors.Is(err, ErrNoNode) {
			return AtomicValue{}, err
		}
		return AtomicValue{}, fmt.Errorf("get %s: %w", a.path, err)
	}
	value, err := DecodeValue(data)
	if err != nil {
		return AtomicValue{}, fmt.Errorf("get %s: %w", a.path, err)
	}
	return AtomicValue{Succeeded: true, PreValue: value, PostValue: value}, nil
}

// Add applies delta. A result with Succeeded=false means every attempt lost a
// version race and nothing was written.
func (a *AtomicLong) Add(ctx context.Context, delta int64) (AtomicValue, error) {
	return a.apply(ctx, func(v int64) int64 { return v + delta })
}

// Subtract applies -delta.
func (a *AtomicLong) Subtract(ctx context.Context, delta int64) (AtomicValue, error) {
	return a.apply(ctx, func(v int64) int64 { return v - delta })
}

// apply runs the read-modify-conditional-write loop under the retry policy.
func (a *AtomicLong) apply(ctx context.Context, next func(int64) int64) (AtomicValue, error) {
	for attempt := 0; ; attempt++ {
		result, done, err := a.try(ctx, next)
		if err != nil || done {
			return result, err
		}
		if !a.retry.allowRetry(attempt) {
			return AtomicValue{Succeeded: false}, nil
		}
		if err := sleep(ctx, a.retry.Sleep); err != nil {
			return AtomicValue{}, err
		}
	}
}

// try performs one attempt. done is false when the attempt lost a race.
func (a *AtomicLong) try(ctx context.Context, next func(int64) int64) (AtomicValue, bool, error) {
	data, stat, err := a.client.Get(ctx, a.path)
	exists := true
	if err != nil {
		if !errors.Is(err, ErrNoNode) {
			return AtomicValue{}, false, fmt.Errorf("read %s: %w", a.path, err)
		}
		exists = false
	}
	current, err := DecodeValue(data)
	if err != nil {
		return AtomicValue{}, false, fmt.Errorf("read %s: %w", a.path, err)
	}
	updated := next(current)
	encoded := EncodeValue(updated)

	if exists {
		_, err = a.client.Set(ctx, a.path, encoded, stat.Version)
	} else {
		err = a.client.Create(ctx, a.path, encoded)
	}
	switch {
	case err == nil:
		return AtomicValue{Succeeded: true, PreValue: current, PostValue: updated}, true, nil
	case errors.Is(err, ErrBadVersion), errors.Is(err, ErrNodeExists):
		return AtomicValue{}, false, nil
	default:
		return AtomicValue{}, false, fmt.Errorf("write %s: %w", a.path, err)
	}
}

// EncodeValue stores v as 8 big-endian bytes.
func EncodeValue(v int64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(v))
	return buf
}

// DecodeValue reads a counter. Empty data, as left by EnsurePath, is zero.
func DecodeValue(data []byte) (int64, error) {
	switch len(data) {
	case 0:
		return 0, nil
	case 8:
		return int64(binary.BigEndian.Uint64(data)), nil
	default:
		return 0, fmt.Errorf("%w: %d bytes", ErrMalformedValue, len(data))
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
