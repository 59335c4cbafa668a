package email

import (
	"context"
	"errors"
	"fmt"
	"time"
)

type outcome[T any] struct {
	val T
	err error
}

// withTimeout runs op and returns whichever settles first: op or the
// deadline. On expiry abort is called to unblock op, and op's eventual
// result is discarded.
func withTimeout[T any](ctx context.Context, d time.Duration, abort func(), op func() (T, error)) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	done := make(chan outcome[T], 1)
	go func() {
		v, err := op()
		done <- outcome[T]{val: v, err: err}
	}()

	select {
	case res := <-done:
		return res.val, res.err
	case <-ctx.Done():
		if abort != nil {
			abort()
		}
		var zero T
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return zero, fmt.Errorf("%w after %s", ErrTimeout, d)
		}
		return zero, ctx.Err()
	}
}

// runWithTimeout is withTimeout for operations without a result
func runWithTimeout(ctx context.Context, d time.Duration, abort func(), op func() error) error {
	_, err := withTimeout(ctx, d, abort, func() (struct{}, error) {
		return struct{}{}, op()
	})
	return err
}
