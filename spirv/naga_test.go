package spirv

import (
	"testing"

	"github.com/gogpu/naga"

	"github.com/gogpu/forge/gpucore"
)

const testWGSL = `
struct Globals {
    view: mat4x4<f32>,
    proj: mat4x4<f32>,
};

@group(0) @binding(0) var<uniform> globals: Globals;

@vertex
fn vs_main(@location(0) position: vec3<f32>) -> @builtin(position) vec4<f32> {
    return globals.proj * globals.view * vec4<f32>(position, 1.0);
}
`

// TestReflectNagaOutput runs the reflector over real compiler output rather
// than hand-assembled modules.
func TestReflectNagaOutput(t *testing.T) {
	code, err := naga.Compile(testWGSL)
	if err != nil {
		t.Fatalf("compile test shader: %v", err)
	}
	if err := ValidateHeader(code); err != nil {
		t.Fatalf("compiler output failed header validation: %v", err)
	}

	layout, err := Reflect([]StageBlob{
		{ID: "naga-vert", Stage: gpucore.StageVertex, Code: code},
	}, gpucore.DefaultLimits().MaxPushConstantSize)
	if err != nil {
		t.Fatal(err)
	}

	found := false
	for _, b := range layout.Bindings {
		if b.Set == 0 && b.Binding == 0 && b.Kind == gpucore.BindingUniformBuffer {
			found = true
		}
	}
	if !found {
		t.Errorf("expected uniform buffer at (0,0), got %+v", layout.Bindings)
	}
}
