package gpucore

// CmdOp identifies one recorded command.
type CmdOp uint8

// Command opcodes.
const (
	// OpSetPipeline binds a graphics pipeline.
	OpSetPipeline CmdOp = iota + 1

	// OpSetVertexBuffer binds a vertex buffer to slot 0.
	OpSetVertexBuffer

	// OpSetIndexBuffer binds the index buffer (uint32 indices).
	OpSetIndexBuffer

	// OpSetBindGroup binds a descriptor set with dynamic offsets.
	OpSetBindGroup

	// OpPushConstants uploads the push-constant range.
	OpPushConstants

	// OpDrawIndexed draws indexed primitives.
	OpDrawIndexed
)

// Command is one recorded device command. Commands are plain values so that
// workers can record batches concurrently without touching the device; the
// adapter replays them at submit time.
//
// A flat struct is used instead of one type per opcode to keep recording
// allocation-free on the hot path.
type Command struct {
	// Op selects which fields are meaningful.
	Op CmdOp

	// Pipeline is used by OpSetPipeline.
	Pipeline PipelineID

	// Buffer and BufferOffset are used by OpSetVertexBuffer and
	// OpSetIndexBuffer. The offset is a byte offset into the buffer,
	// for geometry suballocated from a larger allocation block.
	Buffer       BufferID
	BufferOffset uint64

	// Group and DynamicOffsets are used by OpSetBindGroup.
	Group          BindGroupID
	GroupIndex     uint32
	DynamicOffsets []uint32

	// Bytes is the push-constant payload for OpPushConstants.
	Bytes []byte

	// Stages is the push-constant visibility for OpPushConstants.
	Stages StageMask

	// Draw parameters for OpDrawIndexed.
	IndexCount    uint32
	InstanceCount uint32
	FirstIndex    uint32
	BaseVertex    int32
}

// CommandBatch is one worker's recorded command stream. Batches reference
// pipelines and buffers by ID only; they hold no device state and can be
// merged and replayed in any goroutine.
type CommandBatch struct {
	// Label identifies the batch in debug output.
	Label string

	// Commands is the recorded stream, in submission order.
	Commands []Command
}

// Reset clears the batch for reuse, keeping capacity.
func (b *CommandBatch) Reset() {
	b.Commands = b.Commands[:0]
}

// SetPipeline records a pipeline bind.
func (b *CommandBatch) SetPipeline(p PipelineID) {
	b.Commands = append(b.Commands, Command{Op: OpSetPipeline, Pipeline: p})
}

// SetVertexBuffer records a vertex buffer bind at a byte offset.
func (b *CommandBatch) SetVertexBuffer(buf BufferID, offset uint64) {
	b.Commands = append(b.Commands, Command{Op: OpSetVertexBuffer, Buffer: buf, BufferOffset: offset})
}

// SetIndexBuffer records an index buffer bind at a byte offset.
func (b *CommandBatch) SetIndexBuffer(buf BufferID, offset uint64) {
	b.Commands = append(b.Commands, Command{Op: OpSetIndexBuffer, Buffer: buf, BufferOffset: offset})
}

// SetBindGroup records a descriptor set bind with dynamic offsets.
func (b *CommandBatch) SetBindGroup(index uint32, group BindGroupID, dynamicOffsets []uint32) {
	b.Commands = append(b.Commands, Command{
		Op:             OpSetBindGroup,
		GroupIndex:     index,
		Group:          group,
		DynamicOffsets: dynamicOffsets,
	})
}

// PushConstants records a push-constant upload. The payload is retained by
// reference; callers must not mutate it afterwards.
func (b *CommandBatch) PushConstants(stages StageMask, data []byte) {
	b.Commands = append(b.Commands, Command{Op: OpPushConstants, Stages: stages, Bytes: data})
}

// DrawIndexed records an indexed draw.
func (b *CommandBatch) DrawIndexed(indexCount, instanceCount, firstIndex uint32, baseVertex int32) {
	b.Commands = append(b.Commands, Command{
		Op:            OpDrawIndexed,
		IndexCount:    indexCount,
		InstanceCount: instanceCount,
		FirstIndex:    firstIndex,
		BaseVertex:    baseVertex,
	})
}

// DrawCount returns the number of draw commands in the batch.
func (b *CommandBatch) DrawCount() int {
	n := 0
	for i := range b.Commands {
		if b.Commands[i].Op == OpDrawIndexed {
			n++
		}
	}
	return n
}
