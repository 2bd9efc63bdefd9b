package pipeline

import (
	"strings"

	"github.com/gogpu/forge/gpucore"
	"github.com/gogpu/forge/spirv"
)

// Material pairs a resolved shader set with its reflected descriptor layout
// and default render state. Materials are immutable after construction and
// safely read-shared across recording workers.
type Material struct {
	// Name is the material's lookup name in the store.
	Name string

	// Stages holds the shader blobs, vertex first.
	Stages []spirv.StageBlob

	// Layout is the merged descriptor layout reflected from Stages.
	Layout *spirv.DescriptorLayout

	// State is the material's default fixed-function state.
	State gpucore.RenderState
}

// CacheID returns the material's stable cache identity, derived from the
// content hashes of its shaders.
func (m *Material) CacheID() string {
	ids := make([]string, len(m.Stages))
	for i, s := range m.Stages {
		ids[i] = s.ID
	}
	return strings.Join(ids, "+")
}

// Stage returns the blob for a stage, or nil when the material lacks it.
func (m *Material) Stage(stage gpucore.ShaderStage) *spirv.StageBlob {
	for i := range m.Stages {
		if m.Stages[i].Stage == stage {
			return &m.Stages[i]
		}
	}
	return nil
}
