package service

import (
	"errors"

	"payoffgrid/grid"
	"payoffgrid/store"
)

// Errors callers can match with errors.Is.
var (
	ErrInvalidArgument = grid.ErrInvalidArgument
	ErrOutOfDomain     = grid.ErrOutOfDomain
	ErrNotFound        = store.ErrNotFound

	ErrSweepRunning = errors.New("recompute already running")
	ErrNoSweep      = errors.New("no recompute running")
)
