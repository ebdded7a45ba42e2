package core

import (
	"github.com/cockroachdb/errors"
)

var (
	ErrFrameActive    = errors.New("frame already active, submit it before beginning a new one")
	ErrFrameNotActive = errors.New("no active frame, call Begin first")
	ErrUnknown        = errors.New("unknown")
)
