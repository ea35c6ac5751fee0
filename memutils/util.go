package memutils

import (
	"github.com/pkg/errors"
	"golang.org/x/exp/constraints"
)

// CheckPow2 returns PowerOfTwoError if the provided number is not a power of two. Zero is treated as
// a power of two so that unset alignment fields pass validation.
func CheckPow2[T constraints.Integer](number T, name string) error {
	if number&(number-1) != 0 {
		return errors.Wrapf(PowerOfTwoError, "%s is %d", name, number)
	}
	return nil
}

// AlignUp rounds value up to the next multiple of alignment, which must be a power of two.
// An alignment of 0 or 1 leaves the value unchanged.
func AlignUp[T constraints.Integer](value T, alignment uint) T {
	if alignment <= 1 {
		return value
	}
	return (value + T(alignment) - 1) & ^T(alignment-1)
}

// AlignDown rounds value down to the previous multiple of alignment, which must be a power of two.
func AlignDown[T constraints.Integer](value T, alignment uint) T {
	if alignment <= 1 {
		return value
	}
	return value & ^T(alignment-1)
}

// RoundUpToMultiple rounds value up to the nearest multiple of the provided value. Unlike AlignUp,
// multiple does not need to be a power of two. A multiple of 0 leaves the value unchanged.
func RoundUpToMultiple[T constraints.Integer](value T, multiple T) T {
	if multiple == 0 {
		return value
	}
	remainder := value % multiple
	if remainder == 0 {
		return value
	}
	return value + multiple - remainder
}

// AlignmentPadding returns the number of bytes that must be skipped from offset to reach the next
// multiple of alignment.
func AlignmentPadding(offset int, alignment uint) int {
	return AlignUp(offset, alignment) - offset
}
