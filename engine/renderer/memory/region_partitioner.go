package memory

import (
	"fmt"

	"github.com/spaghettifunk/vortex/engine/mathx"
	"github.com/spaghettifunk/vortex/engine/renderer/gpu"
)

// RegionSpec declares one named logical region of the shared buffer.
type RegionSpec struct {
	Name string
	Size uint64
	// The region's own type alignment (element stride alignment). 0 means 1.
	Align uint64
	Usage gpu.BufferUsage
	// Per-frame regions get one instance per frame slot; global regions one.
	PerFrame bool
}

// RegionView is a slice of the backing buffer. Immutable once the layout is
// computed; all views share the one buffer's lifetime. Data is non-nil only
// for host-visible layouts.
type RegionView struct {
	Buffer gpu.Buffer
	Offset uint64
	Length uint64
	Data   []byte
}

// PlannedRegion is a region's spec with its resolved offsets: one for a
// global region, framesInFlight for a per-frame region, slot order.
type PlannedRegion struct {
	Spec    RegionSpec
	Offsets []uint64
}

// classAlignment maps a region's usage flags to the strictest offset
// alignment any of them requires on this device.
func classAlignment(usage gpu.BufferUsage, limits gpu.Limits) uint64 {
	align := uint64(1)
	if usage&(gpu.BufferUsageTransferSrc|gpu.BufferUsageTransferDst) != 0 {
		align = mathx.Max(align, limits.OptimalBufferCopyOffsetAlignment)
	}
	if usage&gpu.BufferUsageUniform != 0 {
		align = mathx.Max(align, limits.UniformBufferOffsetAlignment)
	}
	if usage&gpu.BufferUsageStorage != 0 {
		align = mathx.Max(align, limits.StorageBufferOffsetAlignment)
	}
	if usage&gpu.BufferUsageIndex != 0 {
		align = mathx.Max(align, 2)
	}
	if usage&gpu.BufferUsageIndirect != 0 {
		align = mathx.Max(align, 4)
	}
	return align
}

func regionAlignment(spec RegionSpec, limits gpu.Limits) uint64 {
	return mathx.Max(classAlignment(spec.Usage, limits), mathx.Max(spec.Align, 1))
}

// PlanRegions computes the layout without touching the device: global
// regions first in declaration order, then per-frame regions per slot in
// declaration order. The per-frame area base is aligned to the strictest
// usage alignment in the whole layout, so the block can later be rebased
// with dynamic offsets. Pure function of its inputs; the returned total is
// the required buffer size.
func PlanRegions(specs []RegionSpec, limits gpu.Limits, framesInFlight uint32) ([]PlannedRegion, uint64, error) {
	if framesInFlight == 0 {
		return nil, 0, fmt.Errorf("frames in flight must be at least 1")
	}
	seen := make(map[string]struct{}, len(specs))
	for _, spec := range specs {
		if spec.Name == "" {
			return nil, 0, fmt.Errorf("region with empty name")
		}
		if spec.Size == 0 {
			return nil, 0, fmt.Errorf("region %q has zero size", spec.Name)
		}
		if _, dup := seen[spec.Name]; dup {
			return nil, 0, fmt.Errorf("duplicate region name %q", spec.Name)
		}
		seen[spec.Name] = struct{}{}
	}

	minAlign := uint64(1)
	for _, spec := range specs {
		minAlign = mathx.Max(minAlign, classAlignment(spec.Usage, limits))
	}

	planned := make([]PlannedRegion, len(specs))
	for i := range specs {
		planned[i].Spec = specs[i]
	}

	var cursor uint64
	for i, spec := range specs {
		if spec.PerFrame {
			continue
		}
		offset := mathx.AlignUp(cursor, regionAlignment(spec, limits))
		planned[i].Offsets = []uint64{offset}
		cursor = offset + spec.Size
	}

	cursor = mathx.AlignUp(cursor, minAlign)
	for f := uint32(0); f < framesInFlight; f++ {
		for i, spec := range specs {
			if !spec.PerFrame {
				continue
			}
			offset := mathx.AlignUp(cursor, regionAlignment(spec, limits))
			planned[i].Offsets = append(planned[i].Offsets, offset)
			cursor = offset + spec.Size
		}
	}

	return planned, cursor, nil
}

// Layout is the one-shot result of Partition: one physically backed buffer
// and a view per region instance.
type Layout struct {
	buffer   gpu.Buffer
	memory   gpu.Memory
	size     uint64
	global   map[string]RegionView
	perFrame map[string][]RegionView
}

// Partition plans the declared regions and backs them with a single buffer.
// When hostVisible is set the backing memory is mapped once and every view
// carries its slice of the mapping.
func Partition(device gpu.Device, specs []RegionSpec, framesInFlight uint32, hostVisible bool) (*Layout, error) {
	planned, total, err := PlanRegions(specs, device.Limits(), framesInFlight)
	if err != nil {
		return nil, err
	}

	var usage gpu.BufferUsage
	for _, spec := range specs {
		usage |= spec.Usage
	}

	buffer, err := device.CreateBuffer(total, usage)
	if err != nil {
		return nil, fmt.Errorf("backing buffer creation failed: %w", err)
	}
	req := device.BufferMemoryRequirements(buffer)
	mem, err := device.AllocateMemory(mathx.Max(req.Size, total), req.MemoryTypeBits, hostVisible)
	if err != nil {
		return nil, fmt.Errorf("backing buffer memory allocation failed: %w", err)
	}
	if err := device.BindBufferMemory(buffer, mem, 0); err != nil {
		return nil, fmt.Errorf("backing buffer bind failed: %w", err)
	}

	var mapping []byte
	if hostVisible {
		mapping, err = device.MapMemory(mem, 0, total)
		if err != nil {
			return nil, fmt.Errorf("backing buffer map failed: %w", err)
		}
	}

	layout := &Layout{
		buffer:   buffer,
		memory:   mem,
		size:     total,
		global:   make(map[string]RegionView),
		perFrame: make(map[string][]RegionView),
	}

	view := func(offset, length uint64) RegionView {
		v := RegionView{Buffer: buffer, Offset: offset, Length: length}
		if mapping != nil {
			v.Data = mapping[offset : offset+length]
		}
		return v
	}

	for _, pr := range planned {
		if pr.Spec.PerFrame {
			views := make([]RegionView, len(pr.Offsets))
			for i, off := range pr.Offsets {
				views[i] = view(off, pr.Spec.Size)
			}
			layout.perFrame[pr.Spec.Name] = views
			continue
		}
		layout.global[pr.Spec.Name] = view(pr.Offsets[0], pr.Spec.Size)
	}

	return layout, nil
}

// Global returns the view of a global region.
func (l *Layout) Global(name string) (RegionView, bool) {
	v, ok := l.global[name]
	return v, ok
}

// PerFrame returns the view of a per-frame region for the given frame slot.
func (l *Layout) PerFrame(name string, slot uint32) (RegionView, bool) {
	views, ok := l.perFrame[name]
	if !ok || int(slot) >= len(views) {
		return RegionView{}, false
	}
	return views[slot], true
}

// Size is the total backing buffer size in bytes.
func (l *Layout) Size() uint64 {
	return l.size
}

func (l *Layout) Buffer() gpu.Buffer {
	return l.buffer
}

// Destroy releases the backing buffer and memory. Every view becomes
// invalid.
func (l *Layout) Destroy(device gpu.Device) {
	device.Destroy(gpu.ResourceBuffer, gpu.Handle(l.buffer))
	device.FreeMemory(l.memory)
}
