package memutils

import (
	cerrors "github.com/cockroachdb/errors"
)

type Number interface {
	~int | ~uint | ~uint32 | ~uint64
}

func CheckPow2[T Number](number T, name string) error {
	if number == 0 || number&(number-1) != 0 {
		return cerrors.Wrapf(PowerOfTwoError, "%s is %d", name, number)
	}
	return nil
}

func AlignUp[T Number](value T, alignment T) T {
	return (value + alignment - 1) &^ (alignment - 1)
}

func AlignDown[T Number](value T, alignment T) T {
	return value &^ (alignment - 1)
}

// AlignUpChecked behaves like AlignUp but reports an error instead of silently wrapping
// when value is close to the top of the type's range
func AlignUpChecked(value uint64, alignment uint64) (uint64, error) {
	aligned := AlignUp(value, alignment)
	if aligned < value {
		return 0, cerrors.Wrapf(OverflowError, "aligning %#x to %#x", value, alignment)
	}
	return aligned, nil
}

func IsAligned[T Number](value T, alignment T) bool {
	return value&(alignment-1) == 0
}

// Max returns the larger of the two values
func Max[T Number](left, right T) T {
	if left > right {
		return left
	}
	return right
}
