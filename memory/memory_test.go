package memory

import (
	"bytes"
	"errors"
	"sync"
	"testing"

	"github.com/gogpu/forge/backend/fake"
	"github.com/gogpu/forge/gpucore"
)

func expectViolation(t *testing.T, fn func()) {
	t.Helper()
	defer func() {
		r := recover()
		if r == nil {
			t.Fatal("expected a contract violation panic")
		}
		if _, ok := r.(*gpucore.ContractViolation); !ok {
			t.Fatalf("panicked with %v, want *gpucore.ContractViolation", r)
		}
	}()
	fn()
}

func newTestRing(t *testing.T, size uint32) (*fake.Device, *FrameRing) {
	t.Helper()
	dev := fake.New()
	ring, err := NewFrameRing(dev, "test-ring", size, 256)
	if err != nil {
		t.Fatalf("NewFrameRing: %v", err)
	}
	return dev, ring
}

func TestRingAllocAligned(t *testing.T) {
	_, ring := newTestRing(t, 4096)

	off1, dst1, err := ring.Alloc(64)
	if err != nil {
		t.Fatal(err)
	}
	off2, _, err := ring.Alloc(64)
	if err != nil {
		t.Fatal(err)
	}
	if off1 != 0 || off2 != 256 {
		t.Fatalf("offsets = %d, %d, want 0, 256", off1, off2)
	}
	if len(dst1) != 64 {
		t.Fatalf("len(dst1) = %d, want 64", len(dst1))
	}
}

func TestRingOverflowNeverOverwrites(t *testing.T) {
	dev, ring := newTestRing(t, 512)

	_, dst, err := ring.Alloc(512)
	if err != nil {
		t.Fatal(err)
	}
	copy(dst, bytes.Repeat([]byte{0xAB}, 512))

	if _, _, err := ring.Alloc(1); !errors.Is(err, gpucore.ErrOutOfMemory) {
		t.Fatalf("got %v, want ErrOutOfMemory", err)
	}

	if err := ring.Flush(dev); err != nil {
		t.Fatal(err)
	}
	got := dev.BufferData(ring.Buffer())
	if !bytes.Equal(got, bytes.Repeat([]byte{0xAB}, 512)) {
		t.Fatal("ring contents were overwritten after a failed allocation")
	}
}

func TestRingPartitionDisjoint(t *testing.T) {
	_, ring := newTestRing(t, 64<<10)

	// Head allocation before partitioning, as the orchestrator does for
	// frame globals.
	if _, _, err := ring.Alloc(128); err != nil {
		t.Fatal(err)
	}

	const workers = 4
	ranges := ring.Partition(workers)
	if len(ranges) != workers {
		t.Fatalf("got %d ranges, want %d", len(ranges), workers)
	}

	type alloc struct{ off, size uint32 }
	var (
		mu   sync.Mutex
		all  []alloc
		wg   sync.WaitGroup
		errs = make(chan error, workers)
	)
	for _, rr := range ranges {
		wg.Add(1)
		go func(rr *RingRange) {
			defer wg.Done()
			var local []alloc
			for i := 0; i < 16; i++ {
				off, _, err := rr.Alloc(100)
				if err != nil {
					errs <- err
					return
				}
				local = append(local, alloc{off, 100})
			}
			mu.Lock()
			all = append(all, local...)
			mu.Unlock()
		}(rr)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatal(err)
	}

	// No two allocations may overlap.
	seen := make(map[uint32]bool)
	for _, a := range all {
		if seen[a.off] {
			t.Fatalf("offset %d handed out twice", a.off)
		}
		seen[a.off] = true
	}
	for _, a := range all {
		for _, b := range all {
			if a != b && a.off < b.off+b.size && b.off < a.off+a.size {
				t.Fatalf("allocations overlap: %v and %v", a, b)
			}
		}
	}

	if used := ring.Used(); used == 0 || used > ring.Size() {
		t.Fatalf("Used() = %d out of range", used)
	}
}

func TestRingRangeUseAfterReset(t *testing.T) {
	_, ring := newTestRing(t, 4096)
	rr := ring.Partition(1)[0]
	ring.Reset()
	expectViolation(t, func() { rr.Alloc(16) })
}

func TestPersistentAcquireRelease(t *testing.T) {
	dev := fake.New()
	a := NewAllocator(dev, 64, nil)
	defer a.Close()

	b1, err := a.Acquire(1024, gpucore.BufferUsageVertex, ScopePersistent)
	if err != nil {
		t.Fatal(err)
	}
	b2, err := a.Acquire(1024, gpucore.BufferUsageVertex, ScopePersistent)
	if err != nil {
		t.Fatal(err)
	}
	if b1.ID() != b2.ID() {
		t.Fatal("small allocations should share one device block")
	}
	if b1.Offset() == b2.Offset() {
		t.Fatal("allocations share an offset")
	}

	st := a.Stats()
	if st.AllocationCount != 2 || st.BlockCount != 1 {
		t.Fatalf("stats = %v", st)
	}

	a.Release(b1)
	a.Release(b2)
	if st := a.Stats(); st.AllocationCount != 0 || st.UsedBytes != 0 {
		t.Fatalf("stats after release = %v", st)
	}
}

func TestPersistentFreeListReuse(t *testing.T) {
	dev := fake.New()
	a := NewAllocator(dev, 64, nil)
	defer a.Close()

	b1, _ := a.Acquire(4096, gpucore.BufferUsageVertex, ScopePersistent)
	b2, _ := a.Acquire(4096, gpucore.BufferUsageVertex, ScopePersistent)
	b3, _ := a.Acquire(4096, gpucore.BufferUsageVertex, ScopePersistent)
	_ = b3

	first := b1.Offset()
	a.Release(b2)
	a.Release(b1)

	// Adjacent frees merged, so a request spanning both fits at the start.
	b4, err := a.Acquire(8192, gpucore.BufferUsageVertex, ScopePersistent)
	if err != nil {
		t.Fatal(err)
	}
	if b4.Offset() != first {
		t.Fatalf("merged span not reused: offset %d, want %d", b4.Offset(), first)
	}
}

func TestDoubleReleasePanics(t *testing.T) {
	dev := fake.New()
	a := NewAllocator(dev, 64, nil)
	defer a.Close()

	b, err := a.Acquire(256, gpucore.BufferUsageUniform, ScopePersistent)
	if err != nil {
		t.Fatal(err)
	}
	a.Release(b)
	expectViolation(t, func() { a.Release(b) })
}

func TestUseAfterReleasePanics(t *testing.T) {
	dev := fake.New()
	a := NewAllocator(dev, 64, nil)
	defer a.Close()

	b, err := a.Acquire(256, gpucore.BufferUsageUniform, ScopePersistent)
	if err != nil {
		t.Fatal(err)
	}
	a.Release(b)
	expectViolation(t, func() { b.ID() })
}

func TestBudgetExhaustion(t *testing.T) {
	dev := fake.New()
	a := NewAllocator(dev, MinBudgetMB, nil)
	defer a.Close()

	if _, err := a.Acquire(16<<20, gpucore.BufferUsageVertex, ScopePersistent); err != nil {
		t.Fatal(err)
	}
	_, err := a.Acquire(1<<20, gpucore.BufferUsageVertex, ScopePersistent)
	if !errors.Is(err, gpucore.ErrOutOfMemory) {
		t.Fatalf("got %v, want ErrOutOfMemory", err)
	}
}

func TestPerFrameAcquire(t *testing.T) {
	dev := fake.New()
	a := NewAllocator(dev, 64, nil)
	defer a.Close()

	ring, err := NewFrameRing(dev, "slot-0", 4096, 256)
	if err != nil {
		t.Fatal(err)
	}
	a.BindRing(ring)

	b, err := a.Acquire(128, gpucore.BufferUsageUniform, ScopePerFrame)
	if err != nil {
		t.Fatal(err)
	}
	if b.ID() != ring.Buffer() {
		t.Fatal("per-frame allocation not backed by the bound ring")
	}

	_, err = a.Acquire(8192, gpucore.BufferUsageUniform, ScopePerFrame)
	if !errors.Is(err, gpucore.ErrOutOfMemory) {
		t.Fatalf("got %v, want ErrOutOfMemory", err)
	}
}

func TestImageAcquireRelease(t *testing.T) {
	dev := fake.New()
	a := NewAllocator(dev, 64, nil)
	defer a.Close()

	img, err := a.AcquireImage(64, 32, gpucore.TextureFormatRGBA8Unorm,
		gpucore.TextureUsageBinding|gpucore.TextureUsageCopyDst)
	if err != nil {
		t.Fatal(err)
	}
	if img.Size() != 64*32*4 {
		t.Fatalf("Size() = %d, want %d", img.Size(), 64*32*4)
	}
	if st := a.Stats(); st.ImageCount != 1 || st.ImageBytes != 64*32*4 {
		t.Fatalf("stats = %+v", st)
	}
	if dev.LiveTextures() != 1 {
		t.Fatalf("live textures = %d, want 1", dev.LiveTextures())
	}

	pixels := bytes.Repeat([]byte{0x7F}, 64*32*4)
	if err := a.UploadImage(img, pixels); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(dev.TextureData(img.ID()), pixels) {
		t.Fatal("uploaded texels do not round-trip through the device")
	}

	a.ReleaseImage(img)
	if st := a.Stats(); st.ImageCount != 0 || st.ImageBytes != 0 {
		t.Fatalf("stats after release = %+v", st)
	}
	if dev.LiveTextures() != 0 {
		t.Fatal("texture leaked after release")
	}
}

func TestImageBudgetSharedWithBuffers(t *testing.T) {
	dev := fake.New()
	a := NewAllocator(dev, MinBudgetMB, nil)
	defer a.Close()

	if _, err := a.Acquire(16<<20, gpucore.BufferUsageVertex, ScopePersistent); err != nil {
		t.Fatal(err)
	}
	_, err := a.AcquireImage(1024, 1024, gpucore.TextureFormatRGBA8Unorm,
		gpucore.TextureUsageBinding)
	if !errors.Is(err, gpucore.ErrOutOfMemory) {
		t.Fatalf("got %v, want ErrOutOfMemory", err)
	}
}

func TestImageDoubleReleasePanics(t *testing.T) {
	dev := fake.New()
	a := NewAllocator(dev, 64, nil)
	defer a.Close()

	img, err := a.AcquireImage(8, 8, gpucore.TextureFormatRGBA8Unorm,
		gpucore.TextureUsageBinding)
	if err != nil {
		t.Fatal(err)
	}
	a.ReleaseImage(img)
	expectViolation(t, func() { a.ReleaseImage(img) })
	expectViolation(t, func() { img.ID() })
}

func TestImageUploadSizeMismatchPanics(t *testing.T) {
	dev := fake.New()
	a := NewAllocator(dev, 64, nil)
	defer a.Close()

	img, err := a.AcquireImage(8, 8, gpucore.TextureFormatRGBA8Unorm,
		gpucore.TextureUsageBinding|gpucore.TextureUsageCopyDst)
	if err != nil {
		t.Fatal(err)
	}
	defer a.ReleaseImage(img)
	expectViolation(t, func() { a.UploadImage(img, make([]byte, 16)) })
}

func TestGuardReleasesImageOnFailure(t *testing.T) {
	dev := fake.New()
	a := NewAllocator(dev, 64, nil)
	defer a.Close()

	func() {
		g := NewGuard(a)
		defer g.Close()
		img, err := a.AcquireImage(8, 8, gpucore.TextureFormatRGBA8Unorm,
			gpucore.TextureUsageBinding)
		if err != nil {
			t.Fatal(err)
		}
		g.TrackImage(img)
		// Setup fails before Keep.
	}()

	if dev.LiveTextures() != 0 {
		t.Fatal("guard leaked an image")
	}
}

func TestGuardReleasesOnFailure(t *testing.T) {
	dev := fake.New()
	a := NewAllocator(dev, 64, nil)
	defer a.Close()

	func() {
		g := NewGuard(a)
		defer g.Close()
		b, err := a.Acquire(512, gpucore.BufferUsageVertex, ScopePersistent)
		if err != nil {
			t.Fatal(err)
		}
		g.Track(b)
		// Setup fails before Keep.
	}()

	if st := a.Stats(); st.AllocationCount != 0 {
		t.Fatalf("guard leaked %d allocations", st.AllocationCount)
	}
}

func TestGuardKeep(t *testing.T) {
	dev := fake.New()
	a := NewAllocator(dev, 64, nil)
	defer a.Close()

	b, err := a.Acquire(512, gpucore.BufferUsageVertex, ScopePersistent)
	if err != nil {
		t.Fatal(err)
	}
	func() {
		g := NewGuard(a)
		defer g.Close()
		g.Track(b)
		g.Keep()
	}()

	if st := a.Stats(); st.AllocationCount != 1 {
		t.Fatalf("kept allocation was released, stats = %v", st)
	}
	a.Release(b)
}
