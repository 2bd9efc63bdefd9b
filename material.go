package forge

import (
	"errors"
	"fmt"

	"github.com/gogpu/naga"

	"github.com/gogpu/forge/gpucore"
	"github.com/gogpu/forge/pipeline"
	"github.com/gogpu/forge/spirv"
	"github.com/gogpu/forge/store"
)

// fallbackWGSL is the built-in material used when a requested one is
// missing. Flat magenta, hard to miss on screen.
const fallbackWGSL = `
struct Globals {
    view_proj: mat4x4<f32>,
}

struct Model {
    transform: mat4x4<f32>,
}

@group(0) @binding(0) var<uniform> globals: Globals;
@group(0) @binding(1) var<uniform> model: Model;

@vertex
fn vs_main(@location(0) position: vec3<f32>) -> @builtin(position) vec4<f32> {
    return globals.view_proj * model.transform * vec4<f32>(position, 1.0);
}

@fragment
fn fs_main() -> @location(0) vec4<f32> {
    return vec4<f32>(1.0, 0.0, 1.0, 1.0);
}
`

// LoadMaterial resolves a material by name from the store and reflects its
// descriptor layout. Results are cached; repeated loads return the same
// *Material.
//
// A missing material resolves to the built-in fallback so a bad asset
// shows up as magenta geometry instead of a dropped frame.
func (e *Engine) LoadMaterial(name string) (*pipeline.Material, error) {
	e.mu.Lock()
	if mat, ok := e.materials[name]; ok {
		e.mu.Unlock()
		return mat, nil
	}
	e.mu.Unlock()

	if e.store == nil {
		return nil, fmt.Errorf("forge: load material %q: no material store configured", name)
	}

	refs, err := e.store.ResolveMaterial(name)
	if errors.Is(err, gpucore.ErrNotFound) {
		e.log.Warn("material not found, using fallback", "material", name)
		return e.fallbackMaterial()
	}
	if err != nil {
		return nil, err
	}

	stages := make([]spirv.StageBlob, len(refs))
	for i, ref := range refs {
		stages[i] = ref.Blob()
	}
	layout, err := e.reflector.Layout(stages)
	if err != nil {
		return nil, fmt.Errorf("forge: reflect material %q: %w", name, err)
	}

	mat := &pipeline.Material{
		Name:   name,
		Stages: stages,
		Layout: layout,
		State:  gpucore.RenderState{Blend: gpucore.BlendOpaque, Cull: gpucore.CullBack},
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if prior, ok := e.materials[name]; ok {
		return prior, nil
	}
	e.materials[name] = mat
	e.log.Debug("material loaded", "material", name, "stages", len(stages), "sets", layout.SetCount())
	return mat, nil
}

// fallbackMaterial compiles the built-in shader on first use.
func (e *Engine) fallbackMaterial() (*pipeline.Material, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.fallback != nil {
		return e.fallback, nil
	}

	code, err := naga.Compile(fallbackWGSL)
	if err != nil {
		return nil, fmt.Errorf("forge: compile fallback shader: %w", err)
	}
	if err := spirv.ValidateHeader(code); err != nil {
		return nil, fmt.Errorf("forge: fallback shader: %w", err)
	}

	// One module holds both entry points; each stage references it under
	// its own identity.
	hash := store.HashBytecode(code)
	stages := []spirv.StageBlob{
		{ID: hash + ":vs", Stage: gpucore.StageVertex, Code: code},
		{ID: hash + ":fs", Stage: gpucore.StageFragment, Code: code},
	}
	layout, err := e.reflector.Layout(stages)
	if err != nil {
		return nil, fmt.Errorf("forge: reflect fallback shader: %w", err)
	}

	e.fallback = &pipeline.Material{
		Name:   "fallback",
		Stages: stages,
		Layout: layout,
		State:  gpucore.RenderState{Blend: gpucore.BlendOpaque, Cull: gpucore.CullNone},
	}
	return e.fallback, nil
}
