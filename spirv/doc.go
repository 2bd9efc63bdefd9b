// Package spirv derives descriptor binding layouts from compiled SPIR-V
// shader bytecode.
//
// Reflection replaces hand-authored binding tables: the engine inspects the
// bytecode of every stage of a material and computes the set/binding slots,
// resource kinds, stage visibility masks and the push-constant range the
// material requires. The result feeds directly into bind group layout and
// pipeline layout creation.
//
// Reflection is a pure function of the input bytecode. [Reflector] caches
// results keyed by the ordered shader identity tuple, so each distinct
// material is reflected exactly once and repeated runs yield bit-identical
// layouts.
//
// The parser walks the instruction stream for type declarations,
// decorations and module-scope variables. It understands the storage
// classes relevant to resource binding (Uniform, StorageBuffer,
// UniformConstant, PushConstant) and enough of the type system to size
// push-constant blocks from member offset decorations.
package spirv
