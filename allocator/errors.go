package allocator

import "github.com/cockroachdb/errors"

var ErrOutOfDeviceMemory = errors.New("out of device memory")
var ErrBlockAllocationFailed = errors.New("block allocation failed")
var ErrRegionAllocationFailed = errors.New("region allocation failed")
var ErrInvalidConfig = errors.New("invalid allocator configuration")
