// aviation/errors.go
// Copyright(c) 2026 crashsim contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package aviation

import "errors"

var (
	ErrLayoutEngineMismatch = errors.New("engine count does not match layout")
	ErrUnknownAirframe      = errors.New("unknown airframe")
	ErrUnknownEngineLayout  = errors.New("unknown engine layout")
)
