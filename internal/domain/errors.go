package domain

import "errors"

var (
	// ErrUserNotFound signals a user lookup miss.
	ErrUserNotFound = errors.New("domain: user not found")
	// ErrServiceNotFound signals a service registry lookup miss.
	ErrServiceNotFound = errors.New("domain: service not found")
	// ErrNotFound is the generic repository miss for the remaining aggregates.
	ErrNotFound = errors.New("domain: not found")
)
