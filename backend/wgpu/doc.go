// Package wgpu adapts the engine's device boundary onto the gogpu wgpu
// HAL. Importing the package registers the "wgpu" backend:
//
//	import _ "github.com/gogpu/forge/backend/wgpu"
//
// The adapter opens the Vulkan HAL backend, replays recorded command
// batches through a command encoder into a single render pass per
// submission, and renders into an internal offscreen target. Push
// constants are emulated with a per-submission uniform buffer bound as an
// extra bind group, because the HAL exposes no push-constant range on its
// pipeline layouts.
package wgpu
