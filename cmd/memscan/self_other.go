//go:build !linux && !windows

package main

import (
	"errors"

	"memcore/memory"
)

func selfTarget() (memory.Target, error) {
	return nil, errors.New("--self is not supported on this platform")
}
