package hwc

import (
	"fmt"
	"math"
)

// Scale maps engineering values onto device register counts linearly.
//
// The symbolic range holds the engineering values callers work with, the
// physical range the raw register counts the device stores. A 0-10V output
// stored as millivolt counts is Scale{0, 10, 0, 10000}.
type Scale struct {
	SymbolicMin float64
	SymbolicMax float64
	PhysicalMin uint16
	PhysicalMax uint16
}

// Validate rejects inverted or degenerate ranges.
func (s Scale) Validate() error {
	if s.SymbolicMax <= s.SymbolicMin {
		return fmt.Errorf("%w: symbolic range [%v, %v]", ErrInvalidScale, s.SymbolicMin, s.SymbolicMax)
	}
	if s.PhysicalMax <= s.PhysicalMin {
		return fmt.Errorf("%w: physical range [%d, %d]", ErrInvalidScale, s.PhysicalMin, s.PhysicalMax)
	}

	return nil
}

// Encode converts a symbolic value to its register count, rounding to the
// nearest count. Values outside the symbolic range yield ErrValueOutOfRange.
func (s Scale) Encode(symbolic float64) (uint16, error) {
	if err := s.Validate(); err != nil {
		return 0, err
	}

	if symbolic < s.SymbolicMin || symbolic > s.SymbolicMax {
		return 0, fmt.Errorf("%w: value %v is not in the symbolic range [%v, %v]",
			ErrValueOutOfRange, symbolic, s.SymbolicMin, s.SymbolicMax)
	}

	ratio := (symbolic - s.SymbolicMin) / (s.SymbolicMax - s.SymbolicMin)
	physical := float64(s.PhysicalMin) + ratio*float64(s.PhysicalMax-s.PhysicalMin)

	return uint16(math.Round(physical)), nil
}

// Decode converts a register count back to its symbolic value. Counts outside
// the physical range yield ErrValueOutOfRange.
func (s Scale) Decode(physical uint16) (float64, error) {
	if err := s.Validate(); err != nil {
		return 0, err
	}

	if physical < s.PhysicalMin || physical > s.PhysicalMax {
		return 0, fmt.Errorf("%w: value %d is not in the physical range [%d, %d]",
			ErrValueOutOfRange, physical, s.PhysicalMin, s.PhysicalMax)
	}

	ratio := float64(physical-s.PhysicalMin) / float64(s.PhysicalMax-s.PhysicalMin)

	return s.SymbolicMin + ratio*(s.SymbolicMax-s.SymbolicMin), nil
}
