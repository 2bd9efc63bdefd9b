package forge

import (
	"github.com/gogpu/forge/frame"
	"github.com/gogpu/forge/gpucore"
)

// The error taxonomy, re-exported so callers rarely need to import the
// subsystem packages. Match with errors.Is.
var (
	// ErrNotFound: a material or shader does not exist. Recoverable; the
	// engine substitutes the fallback material.
	ErrNotFound = gpucore.ErrNotFound

	// ErrCorrupt: shader bytecode failed validation. Fatal for that
	// material; frames using it are skipped.
	ErrCorrupt = gpucore.ErrCorrupt

	// ErrLayoutConflict: shader stages declare incompatible bindings.
	// Fatal at load time; fix the assets.
	ErrLayoutConflict = gpucore.ErrLayoutConflict

	// ErrOutOfMemory: a device heap or per-frame budget is exhausted.
	// Recoverable by skipping the frame.
	ErrOutOfMemory = gpucore.ErrOutOfMemory

	// ErrLostDevice: device failure or a bounded wait timed out. Fatal;
	// the engine must be torn down and rebuilt.
	ErrLostDevice = gpucore.ErrLostDevice

	// ErrFrameSkipped wraps the recoverable cause of a dropped frame.
	ErrFrameSkipped = frame.ErrFrameSkipped
)

// ContractViolation is the panic payload raised on resource misuse such as
// double release. See [gpucore.ContractViolation].
type ContractViolation = gpucore.ContractViolation
