package domain

import "errors"

var (
	// ErrPoolExhausted is returned when fewer free blocks remain than requested.
	ErrPoolExhausted = errors.New("pool exhausted")
	// ErrPoolLeak is returned when a pool is closed while samples are still referenced.
	ErrPoolLeak = errors.New("pool closed with outstanding samples")
	// ErrCapacityExceeded is returned when a sample would grow past its block size.
	ErrCapacityExceeded = errors.New("sample capacity exceeded")
)
