package model

import "errors"

var (
	ErrNotFound   = errors.New("not found")
	ErrValidation = errors.New("validation error")
	ErrConflict   = errors.New("conflict")

	// ErrLeaseUnavailable is returned by the Cursor Lock when a lease could not
	// be acquired within the configured retry budget.
	ErrLeaseUnavailable = errors.New("cursor lease unavailable")

	// ErrBudgetExceeded is returned by the Cost Interceptor when a call would
	// exceed the workspace's hard budget limit.
	ErrBudgetExceeded = errors.New("budget hard limit exceeded")
)
