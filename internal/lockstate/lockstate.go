// Package lockstate translates device state codes into assistant property values.
package lockstate

import (
	"errors"
	"fmt"
)

// Code is the integer state a device record carries.
type Code int

const (
	// CodeLocked is a closed and bolted door.
	CodeLocked Code = 1
	// CodeUnlocked is a closed door with the bolt withdrawn.
	CodeUnlocked Code = 2
	// CodeClosed is a closed door whose bolt position is not confirmed.
	CodeClosed Code = 3
	// CodeOpen is an open door.
	CodeOpen Code = 4
)

// LockState enumerates Alexa.LockController lockState values.
type LockState string

const (
	LockStateLocked   LockState = "LOCKED"
	LockStateUnlocked LockState = "UNLOCKED"
	LockStateJammed   LockState = "JAMMED"
)

// DetectionState enumerates Alexa.ContactSensor detectionState values.
type DetectionState string

const (
	DetectionDetected    DetectionState = "DETECTED"
	DetectionNotDetected DetectionState = "NOT_DETECTED"
)

var (
	// ErrInvalidLockState indicates an unknown lockState name.
	ErrInvalidLockState = errors.New("lockstate: invalid lock state")
	// ErrInvalidDetectionState indicates an unknown detectionState name.
	ErrInvalidDetectionState = errors.New("lockstate: invalid detection state")
)

// Mapping is the pair of property values a state code renders to.
type Mapping struct {
	Lock      LockState
	Detection DetectionState
}

// TableConfig holds the deployment-dependent cells of the table.
type TableConfig struct {
	// UnknownLockState is reported for codes outside 1..4. UNLOCKED or JAMMED.
	UnknownLockState LockState
	// UnlockedDetection is the contact value reported for code 2.
	UnlockedDetection DetectionState
}

// Table maps state codes to property values. The zero value behaves like DefaultTable.
type Table struct {
	rows     map[Code]Mapping
	fallback Mapping
}

// NewTable builds the codec table for a deployment.
func NewTable(cfg TableConfig) (Table, error) {
	unknown := cfg.UnknownLockState
	if unknown == "" {
		unknown = LockStateJammed
	}
	if unknown != LockStateJammed && unknown != LockStateUnlocked {
		return Table{}, fmt.Errorf("%w: %q", ErrInvalidLockState, unknown)
	}
	unlockedDetection := cfg.UnlockedDetection
	if unlockedDetection == "" {
		unlockedDetection = DetectionNotDetected
	}
	if unlockedDetection != DetectionDetected && unlockedDetection != DetectionNotDetected {
		return Table{}, fmt.Errorf("%w: %q", ErrInvalidDetectionState, unlockedDetection)
	}

	return Table{
		rows: map[Code]Mapping{
			CodeLocked:   {Lock: LockStateLocked, Detection: DetectionDetected},
			CodeUnlocked: {Lock: LockStateUnlocked, Detection: unlockedDetection},
			CodeClosed:   {Lock: LockStateLocked, Detection: DetectionDetected},
			CodeOpen:     {Lock: LockStateUnlocked, Detection: DetectionNotDetected},
		},
		fallback: Mapping{Lock: unknown, Detection: DetectionNotDetected},
	}, nil
}

// DefaultTable returns the table with JAMMED for unknown codes and NOT_DETECTED for code 2.
func DefaultTable() Table {
	table, _ := NewTable(TableConfig{})
	return table
}

// Map returns the property values for a state code. Unknown codes map to the fallback row.
func (t Table) Map(code int) Mapping {
	if t.rows == nil {
		return DefaultTable().Map(code)
	}
	if mapping, ok := t.rows[Code(code)]; ok {
		return mapping
	}
	return t.fallback
}

// Known reports whether the code is one of the four defined device states.
func Known(code int) bool {
	switch Code(code) {
	case CodeLocked, CodeUnlocked, CodeClosed, CodeOpen:
		return true
	default:
		return false
	}
}

// TargetCode returns the code an actuation writes. Only LOCKED and UNLOCKED are ever written.
func TargetCode(lock bool) Code {
	if lock {
		return CodeLocked
	}
	return CodeUnlocked
}
