package spirv

import (
	"encoding/binary"
	"fmt"

	"github.com/gogpu/forge/gpucore"
)

// MagicNumber is the SPIR-V module magic number in little-endian order.
const MagicNumber = 0x07230203

// headerWords is the fixed module header length: magic, version, generator,
// bound, schema.
const headerWords = 5

// Opcodes used by the reflection walk.
const (
	opEntryPoint       = 15
	opTypeInt          = 21
	opTypeFloat        = 22
	opTypeVector       = 23
	opTypeMatrix       = 24
	opTypeImage        = 25
	opTypeSampler      = 26
	opTypeSampledImage = 27
	opTypeArray        = 28
	opTypeRuntimeArray = 29
	opTypeStruct       = 30
	opTypePointer      = 32
	opConstant         = 43
	opVariable         = 59
	opDecorate         = 71
	opMemberDecorate   = 72
)

// Storage classes relevant to resource binding.
const (
	classUniformConstant = 0
	classUniform         = 2
	classPushConstant    = 9
	classStorageBuffer   = 12
)

// Decorations relevant to resource binding.
const (
	decorationBlock         = 2
	decorationBufferBlock   = 3
	decorationOffset        = 35
	decorationBinding       = 33
	decorationDescriptorSet = 34
)

// ValidateHeader performs basic header validation of a SPIR-V blob: length,
// magic number and version. It is the shared "is this plausibly bytecode"
// check used both by the store on load and by Reflect.
//
// Returns an error wrapping gpucore.ErrCorrupt on failure.
func ValidateHeader(code []byte) error {
	if len(code) < headerWords*4 {
		return fmt.Errorf("%w: module too short (%d bytes)", gpucore.ErrCorrupt, len(code))
	}
	if len(code)%4 != 0 {
		return fmt.Errorf("%w: module length %d not word aligned", gpucore.ErrCorrupt, len(code))
	}
	magic := binary.LittleEndian.Uint32(code)
	if magic != MagicNumber {
		return fmt.Errorf("%w: bad magic 0x%08x", gpucore.ErrCorrupt, magic)
	}
	version := binary.LittleEndian.Uint32(code[4:])
	if major := (version >> 16) & 0xff; major != 1 {
		return fmt.Errorf("%w: unsupported version %d.%d", gpucore.ErrCorrupt, major, (version>>8)&0xff)
	}
	return nil
}

// Execution models of OpEntryPoint.
const (
	execModelVertex   = 0
	execModelFragment = 4
)

// EntryPoint returns the name of the module's entry point for the given
// stage. Compilers differ here: glslang emits "main", naga emits names
// like "vs_main", so backends must look the name up rather than assume.
//
// Returns an error wrapping gpucore.ErrCorrupt if the module declares no
// entry point for the stage.
func EntryPoint(code []byte, stage gpucore.ShaderStage) (string, error) {
	if err := ValidateHeader(code); err != nil {
		return "", err
	}

	var want uint32
	switch stage {
	case gpucore.StageVertex:
		want = execModelVertex
	case gpucore.StageFragment:
		want = execModelFragment
	default:
		return "", fmt.Errorf("%w: no entry point model for stage %v", gpucore.ErrCorrupt, stage)
	}

	words := make([]uint32, len(code)/4)
	for i := range words {
		words[i] = binary.LittleEndian.Uint32(code[i*4:])
	}
	for at := headerWords; at < len(words); {
		first := words[at]
		wc := int(first >> 16)
		op := first & 0xffff
		if wc == 0 || at+wc > len(words) {
			return "", fmt.Errorf("%w: truncated instruction at word %d", gpucore.ErrCorrupt, at)
		}
		if op == opEntryPoint && wc >= 4 && words[at+1] == want {
			return decodeString(words[at+3 : at+wc]), nil
		}
		at += wc
	}
	return "", fmt.Errorf("%w: module has no %v entry point", gpucore.ErrCorrupt, stage)
}

// decodeString unpacks a SPIR-V literal string: UTF-8 bytes packed
// little-endian into words, null terminated.
func decodeString(words []uint32) string {
	buf := make([]byte, 0, len(words)*4)
	for _, w := range words {
		for shift := 0; shift < 32; shift += 8 {
			b := byte(w >> shift)
			if b == 0 {
				return string(buf)
			}
			buf = append(buf, b)
		}
	}
	return string(buf)
}

// module is the parsed, reflection-relevant view of one SPIR-V blob.
type module struct {
	words []uint32

	// Decorations by target ID.
	sets     map[uint32]uint32
	bindings map[uint32]uint32
	blocks   map[uint32]bool // Block or BufferBlock decorated struct IDs
	buffer   map[uint32]bool // BufferBlock decorated struct IDs (legacy SSBO)

	// memberOffsets[structID][member] = byte offset.
	memberOffsets map[uint32]map[uint32]uint32

	// Type table by result ID.
	types map[uint32]typeInfo

	// Constant values by result ID (array lengths).
	constants map[uint32]uint32

	// Module-scope variables.
	vars []variable
}

// typeKind discriminates parsed type entries.
type typeKind uint8

const (
	kindScalar typeKind = iota + 1
	kindVector
	kindMatrix
	kindArray
	kindRuntimeArray
	kindStruct
	kindImage
	kindSampler
	kindSampledImage
	kindPointer
)

type typeInfo struct {
	kind typeKind

	// width is the byte size for scalars.
	width uint32

	// elem is the component/element/pointee type ID.
	elem uint32

	// count is the component count (vector), column count (matrix) or the
	// constant ID of the length (array).
	count uint32

	// members holds struct member type IDs.
	members []uint32

	// class is the storage class for pointers.
	class uint32
}

type variable struct {
	id     uint32
	typeID uint32 // pointer type
	class  uint32
}

// parse walks the instruction stream of a validated module and fills the
// lookup tables used by reflection.
func parse(code []byte) (*module, error) {
	if err := ValidateHeader(code); err != nil {
		return nil, err
	}

	words := make([]uint32, len(code)/4)
	for i := range words {
		words[i] = binary.LittleEndian.Uint32(code[i*4:])
	}

	m := &module{
		words:         words,
		sets:          make(map[uint32]uint32),
		bindings:      make(map[uint32]uint32),
		blocks:        make(map[uint32]bool),
		buffer:        make(map[uint32]bool),
		memberOffsets: make(map[uint32]map[uint32]uint32),
		types:         make(map[uint32]typeInfo),
		constants:     make(map[uint32]uint32),
	}

	for at := headerWords; at < len(words); {
		first := words[at]
		wc := int(first >> 16)
		op := first & 0xffff
		if wc == 0 || at+wc > len(words) {
			return nil, fmt.Errorf("%w: truncated instruction at word %d", gpucore.ErrCorrupt, at)
		}
		args := words[at+1 : at+wc]

		switch op {
		case opDecorate:
			if len(args) >= 2 {
				m.decorate(args[0], args[1], args[2:])
			}
		case opMemberDecorate:
			if len(args) >= 4 && args[2] == decorationOffset {
				offs := m.memberOffsets[args[0]]
				if offs == nil {
					offs = make(map[uint32]uint32)
					m.memberOffsets[args[0]] = offs
				}
				offs[args[1]] = args[3]
			}
		case opTypeInt, opTypeFloat:
			if len(args) >= 2 {
				m.types[args[0]] = typeInfo{kind: kindScalar, width: args[1] / 8}
			}
		case opTypeVector:
			if len(args) >= 3 {
				m.types[args[0]] = typeInfo{kind: kindVector, elem: args[1], count: args[2]}
			}
		case opTypeMatrix:
			if len(args) >= 3 {
				m.types[args[0]] = typeInfo{kind: kindMatrix, elem: args[1], count: args[2]}
			}
		case opTypeArray:
			if len(args) >= 3 {
				m.types[args[0]] = typeInfo{kind: kindArray, elem: args[1], count: args[2]}
			}
		case opTypeRuntimeArray:
			if len(args) >= 2 {
				m.types[args[0]] = typeInfo{kind: kindRuntimeArray, elem: args[1]}
			}
		case opTypeStruct:
			if len(args) >= 1 {
				members := make([]uint32, len(args)-1)
				copy(members, args[1:])
				m.types[args[0]] = typeInfo{kind: kindStruct, members: members}
			}
		case opTypeImage:
			if len(args) >= 1 {
				m.types[args[0]] = typeInfo{kind: kindImage}
			}
		case opTypeSampler:
			if len(args) >= 1 {
				m.types[args[0]] = typeInfo{kind: kindSampler}
			}
		case opTypeSampledImage:
			if len(args) >= 2 {
				m.types[args[0]] = typeInfo{kind: kindSampledImage, elem: args[1]}
			}
		case opTypePointer:
			if len(args) >= 3 {
				m.types[args[0]] = typeInfo{kind: kindPointer, class: args[1], elem: args[2]}
			}
		case opConstant:
			if len(args) >= 3 {
				m.constants[args[1]] = args[2]
			}
		case opVariable:
			if len(args) >= 3 {
				m.vars = append(m.vars, variable{typeID: args[0], id: args[1], class: args[2]})
			}
		}
		at += wc
	}
	return m, nil
}

func (m *module) decorate(target, decoration uint32, literals []uint32) {
	switch decoration {
	case decorationDescriptorSet:
		if len(literals) >= 1 {
			m.sets[target] = literals[0]
		}
	case decorationBinding:
		if len(literals) >= 1 {
			m.bindings[target] = literals[0]
		}
	case decorationBlock:
		m.blocks[target] = true
	case decorationBufferBlock:
		m.blocks[target] = true
		m.buffer[target] = true
	}
}

// sizeOf computes the byte size of a type, preferring member Offset
// decorations for structs so that std140/std430 padding is respected.
// Runtime arrays contribute zero (their size is bind-time data).
func (m *module) sizeOf(id uint32) uint32 {
	t, ok := m.types[id]
	if !ok {
		return 0
	}
	switch t.kind {
	case kindScalar:
		return t.width
	case kindVector, kindMatrix:
		return m.sizeOf(t.elem) * t.count
	case kindArray:
		return m.sizeOf(t.elem) * m.constants[t.count]
	case kindStruct:
		var size uint32
		offs := m.memberOffsets[id]
		for i, member := range t.members {
			end := m.sizeOf(member)
			if offs != nil {
				end += offs[uint32(i)]
			}
			if end > size {
				size = end
			}
		}
		return size
	default:
		return 0
	}
}

// pointee resolves a pointer type to its pointee typeInfo.
func (m *module) pointee(ptrType uint32) (typeInfo, uint32, bool) {
	p, ok := m.types[ptrType]
	if !ok || p.kind != kindPointer {
		return typeInfo{}, 0, false
	}
	t, ok := m.types[p.elem]
	return t, p.elem, ok
}
