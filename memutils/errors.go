package memutils

import "github.com/pkg/errors"

// PowerOfTwoError is the error returned from CheckPow2 or other methods if the number being tested is not a power of two
var PowerOfTwoError error = errors.New("number must be a power of two")

// HostMemoryExhaustedError is the error returned by HostAllocator when the host memory callbacks refuse an allocation
var HostMemoryExhaustedError error = errors.New("host memory allocation failed")
