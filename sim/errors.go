// sim/errors.go
// Copyright(c) 2026 crashsim contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package sim

import "errors"

var (
	ErrEngineIndexOutOfRange  = errors.New("Engine index out of range")
	ErrEngineNotFailed        = errors.New("Engine has no active failure")
	ErrEngineNotRecoverable   = errors.New("Engine failure is not recoverable")
	ErrSurfaceIndexOutOfRange = errors.New("Control surface index out of range")
	ErrUnknownDifficulty      = errors.New("Unknown difficulty tier")
	ErrUnknownFailureType     = errors.New("Unknown failure type")
)
