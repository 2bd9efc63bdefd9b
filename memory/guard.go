package memory

// Guard releases a set of persistent allocations unless disarmed. Setup
// paths that acquire several resources defer the guard so a failure midway
// releases everything already acquired; on success, Keep disarms it.
//
//	g := memory.NewGuard(alloc)
//	defer g.Close()
//	vb, err := alloc.Acquire(...)
//	if err != nil { return err }
//	g.Track(vb)
//	...
//	g.Keep()
type Guard struct {
	alloc   *Allocator
	buffers []*Buffer
	images  []*Image
	kept    bool
}

// NewGuard creates a guard bound to the allocator.
func NewGuard(alloc *Allocator) *Guard {
	return &Guard{alloc: alloc}
}

// Track registers an allocation for release on failure.
func (g *Guard) Track(b *Buffer) {
	g.buffers = append(g.buffers, b)
}

// TrackImage registers an image for release on failure.
func (g *Guard) TrackImage(img *Image) {
	g.images = append(g.images, img)
}

// Keep disarms the guard; tracked allocations stay live.
func (g *Guard) Keep() {
	g.kept = true
}

// Close releases tracked allocations in reverse order unless Keep was
// called.
func (g *Guard) Close() {
	if g.kept {
		return
	}
	for i := len(g.images) - 1; i >= 0; i-- {
		g.alloc.ReleaseImage(g.images[i])
	}
	g.images = nil
	for i := len(g.buffers) - 1; i >= 0; i-- {
		g.alloc.Release(g.buffers[i])
	}
	g.buffers = nil
}
