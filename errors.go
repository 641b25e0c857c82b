package vdpu

import "errors"

// Common errors
var (
	ErrUnknownVariant    = errors.New("unknown hardware variant")
	ErrOutOfMemory       = errors.New("out of device memory")
	ErrSessionClosed     = errors.New("session closed")
	ErrEngineSuspended   = errors.New("engine suspended")
	ErrNoFrameHeader     = errors.New("input buffer has no frame header")
	ErrBadPartitionCount = errors.New("DCT partition count not in {1,2,4,8}")
	ErrDeviceClosed      = errors.New("device closed")
)
