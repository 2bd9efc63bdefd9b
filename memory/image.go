package memory

import (
	"fmt"

	"github.com/gogpu/forge/gpucore"
)

// Image is a device texture allocation. Images are always persistent:
// they are created as dedicated device textures and live until an
// explicit ReleaseImage.
type Image struct {
	id     gpucore.TextureID
	width  uint32
	height uint32
	format gpucore.TextureFormat
	size   uint64

	released bool
}

// ID returns the backing device texture.
func (i *Image) ID() gpucore.TextureID {
	i.check("memory.Image.ID")
	return i.id
}

// Width returns the image width in texels.
func (i *Image) Width() uint32 { return i.width }

// Height returns the image height in texels.
func (i *Image) Height() uint32 { return i.height }

// Format returns the texel format.
func (i *Image) Format() gpucore.TextureFormat { return i.format }

// Size returns the image's budgeted byte size.
func (i *Image) Size() uint64 { return i.size }

func (i *Image) check(op string) {
	if i.released {
		gpucore.Violate(op, "use of released image %dx%d", i.width, i.height)
	}
}

// AcquireImage allocates a device texture and charges it against the
// budget. Exhaustion yields ErrOutOfMemory.
func (a *Allocator) AcquireImage(width, height uint32, format gpucore.TextureFormat,
	usage gpucore.TextureUsage) (*Image, error) {

	if width == 0 || height == 0 {
		gpucore.Violate("memory.AcquireImage", "zero-extent image %dx%d", width, height)
	}
	texel := format.TexelSize()
	if texel == 0 {
		gpucore.Violate("memory.AcquireImage", "image with undefined format")
	}
	size := uint64(width) * uint64(height) * uint64(texel)

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.blockBytes+a.imageBytes+size > a.budget {
		return nil, fmt.Errorf("memory: image of %d bytes requested, %d of %d budget committed: %w",
			size, a.blockBytes+a.imageBytes, a.budget, gpucore.ErrOutOfMemory)
	}
	id, err := a.dev.CreateTexture(&gpucore.TextureDescriptor{
		Label:  "forge-image",
		Width:  width,
		Height: height,
		Format: format,
		Usage:  usage,
	})
	if err != nil {
		return nil, fmt.Errorf("memory: create image: %w", err)
	}
	a.imageBytes += size
	a.imageCount++
	return &Image{id: id, width: width, height: height, format: format, size: size}, nil
}

// ReleaseImage destroys an image and returns its bytes to the budget.
// Releasing twice panics with a contract violation.
func (a *Allocator) ReleaseImage(img *Image) {
	if img == nil {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	if img.released {
		gpucore.Violate("memory.ReleaseImage", "double release of %dx%d image", img.width, img.height)
	}
	img.released = true

	a.dev.DestroyTexture(img.id)
	a.imageBytes -= img.size
	a.imageCount--
}

// UploadImage writes tightly packed pixel rows into mip level zero.
func (a *Allocator) UploadImage(img *Image, data []byte) error {
	img.check("memory.UploadImage")
	rowPitch := img.width * img.format.TexelSize()
	if uint64(len(data)) != uint64(rowPitch)*uint64(img.height) {
		gpucore.Violate("memory.UploadImage", "%d bytes for a %dx%d image needing %d",
			len(data), img.width, img.height, uint64(rowPitch)*uint64(img.height))
	}
	if err := a.dev.WriteTexture(img.id, data, rowPitch); err != nil {
		return fmt.Errorf("memory: upload image: %w", err)
	}
	return nil
}
