package spirv

import (
	"strings"

	"github.com/gogpu/forge/internal/cache"
)

// Reflector caches descriptor layouts keyed by the ordered shader identity
// tuple of a material. Reflection is a pure function of the bytecode, so
// each distinct tuple is computed exactly once and shared by all callers.
//
// Reflector is safe for concurrent use.
type Reflector struct {
	maxPushBytes uint32
	layouts      *cache.Cache[string, *DescriptorLayout]
}

// NewReflector creates a Reflector. maxPushBytes is the device's reported
// push-constant limit; layouts whose merged push range exceeds it fail with
// gpucore.ErrLayoutConflict.
func NewReflector(maxPushBytes uint32) *Reflector {
	return &Reflector{
		maxPushBytes: maxPushBytes,
		// Layouts are tiny; the soft limit only bounds a pathological
		// number of distinct materials.
		layouts: cache.New[string, *DescriptorLayout](1024),
	}
}

// Layout returns the descriptor layout for the given stages, computing and
// caching it on first use.
func (r *Reflector) Layout(stages []StageBlob) (*DescriptorLayout, error) {
	return r.layouts.GetOrCreate(TupleKey(stages), func() (*DescriptorLayout, error) {
		return Reflect(stages, r.maxPushBytes)
	})
}

// Cached returns the number of cached layouts.
func (r *Reflector) Cached() int { return r.layouts.Len() }

// TupleKey builds the cache key for an ordered stage tuple.
func TupleKey(stages []StageBlob) string {
	var sb strings.Builder
	for i, s := range stages {
		if i > 0 {
			sb.WriteByte('+')
		}
		sb.WriteString(s.ID)
	}
	return sb.String()
}
