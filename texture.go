package forge

import (
	"fmt"

	"github.com/gogpu/forge/frame"
	"github.com/gogpu/forge/gpucore"
	"github.com/gogpu/forge/memory"
	"github.com/gogpu/forge/pipeline"
)

// Texture is a sampled image resident in device memory. Create with
// Engine.CreateTexture, free with Release.
type Texture struct {
	img *memory.Image
	eng *Engine
}

// TextureSlot assigns a texture to one sampled-image binding of a
// material's set 0. Sampler bindings are filled automatically with the
// engine's shared linear sampler.
type TextureSlot struct {
	// Binding is the binding number within set 0.
	Binding uint32

	// Texture is the bound texture.
	Texture *Texture
}

// CreateTexture uploads RGBA8 pixel data into a device texture. pixels
// holds tightly packed rows, 4 bytes per texel.
func (e *Engine) CreateTexture(width, height uint32, pixels []byte) (*Texture, error) {
	if uint64(len(pixels)) != uint64(width)*uint64(height)*4 {
		gpucore.Violate("forge.CreateTexture", "%d bytes of pixels for a %dx%d RGBA8 texture",
			len(pixels), width, height)
	}

	guard := memory.NewGuard(e.alloc)
	defer guard.Close()

	img, err := e.alloc.AcquireImage(width, height, gpucore.TextureFormatRGBA8Unorm,
		gpucore.TextureUsageBinding|gpucore.TextureUsageCopyDst)
	if err != nil {
		return nil, fmt.Errorf("forge: texture: %w", err)
	}
	guard.TrackImage(img)
	if err := e.alloc.UploadImage(img, pixels); err != nil {
		return nil, fmt.Errorf("forge: texture upload: %w", err)
	}

	guard.Keep()
	return &Texture{img: img, eng: e}, nil
}

// Width returns the texture width in texels.
func (t *Texture) Width() uint32 { return t.img.Width() }

// Height returns the texture height in texels.
func (t *Texture) Height() uint32 { return t.img.Height() }

// Release frees the texture's device memory. The texture must not be
// referenced by an in-flight frame.
func (t *Texture) Release() {
	t.eng.alloc.ReleaseImage(t.img)
}

// textureBindings maps a draw's texture slots onto frame bindings and
// fills the material's sampler slots with the shared default sampler.
func (e *Engine) textureBindings(mat *pipeline.Material, slots []TextureSlot) ([]frame.TextureBinding, error) {
	if len(slots) == 0 && !hasSamplerSlot(mat) {
		return nil, nil
	}
	out := make([]frame.TextureBinding, 0, len(slots)+1)
	for i := range slots {
		out = append(out, frame.TextureBinding{
			Binding: slots[i].Binding,
			Texture: slots[i].Texture.img.ID(),
		})
	}
	for _, b := range mat.Layout.Bindings {
		if b.Set != 0 || b.Kind != gpucore.BindingSampler {
			continue
		}
		s, err := e.defaultSampler()
		if err != nil {
			return nil, err
		}
		out = append(out, frame.TextureBinding{Binding: b.Binding, Sampler: s})
	}
	return out, nil
}

func hasSamplerSlot(mat *pipeline.Material) bool {
	for _, b := range mat.Layout.Bindings {
		if b.Set == 0 && b.Kind == gpucore.BindingSampler {
			return true
		}
	}
	return false
}

// defaultSampler returns the engine's shared linear clamp-to-edge sampler,
// creating it on first use.
func (e *Engine) defaultSampler() (gpucore.SamplerID, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.sampler != gpucore.InvalidID {
		return e.sampler, nil
	}
	s, err := e.dev.CreateSampler(&gpucore.SamplerDescriptor{Label: "forge-sampler"})
	if err != nil {
		return gpucore.InvalidID, fmt.Errorf("forge: default sampler: %w", err)
	}
	e.sampler = s
	return s, nil
}
