package gpucore

import (
	"errors"
	"fmt"
)

// Error taxonomy shared by the engine core and backends.
//
// Recoverable kinds never propagate past the frame orchestrator as anything
// stronger than a skipped frame; fatal kinds propagate to the top-level
// caller unmasked.
var (
	// ErrNotFound is returned when a material or shader does not exist.
	// Recoverable: callers substitute a fallback material.
	ErrNotFound = errors.New("gpucore: material or shader not found")

	// ErrCorrupt is returned when shader bytecode fails header validation.
	// Fatal for that material; a frame using it is skipped.
	ErrCorrupt = errors.New("gpucore: corrupt shader bytecode")

	// ErrLayoutConflict is returned when reflection finds incompatible
	// binding declarations across shader stages. Fatal at load time; must
	// be fixed at asset-build time.
	ErrLayoutConflict = errors.New("gpucore: descriptor layout conflict")

	// ErrOutOfMemory is returned when a device heap or staging budget is
	// exhausted. Recoverable per-frame: skip the frame and retry after
	// per-frame resources retire.
	ErrOutOfMemory = errors.New("gpucore: device memory exhausted")

	// ErrLostDevice is returned on device-level failure or a bounded wait
	// timing out. Fatal: requires full reinitialization of GPU state.
	ErrLostDevice = errors.New("gpucore: device lost")

	// ErrDeviceClosed is returned when operating on a closed adapter.
	ErrDeviceClosed = errors.New("gpucore: device adapter closed")

	// ErrInvalidHandle is returned when an ID does not refer to a live
	// resource on the adapter.
	ErrInvalidHandle = errors.New("gpucore: invalid resource handle")
)

// ContractViolation reports misuse of a resource contract: releasing an
// allocation twice, or using a handle after release. It indicates GPU-
// resident state that can no longer be trusted, so it is raised as a panic
// rather than returned as an error.
type ContractViolation struct {
	// Op is the operation that detected the violation, e.g. "memory.Release".
	Op string

	// Detail describes the violated contract.
	Detail string
}

// Error implements the error interface so recovered panics can be logged
// uniformly.
func (v *ContractViolation) Error() string {
	return fmt.Sprintf("gpucore: contract violation in %s: %s", v.Op, v.Detail)
}

// Violate panics with a *ContractViolation. It never returns.
func Violate(op, format string, args ...any) {
	panic(&ContractViolation{Op: op, Detail: fmt.Sprintf(format, args...)})
}
