package frame

import (
	"github.com/spaghettifunk/vortex/engine/containers"
	"github.com/spaghettifunk/vortex/engine/core"
	"github.com/spaghettifunk/vortex/engine/renderer/gpu"
)

// DeleteQueueEntry is one handle scheduled for destruction once the GPU can
// no longer be reading it. The kind tag keeps the queue heterogeneous
// without a destroy callback per entry.
type DeleteQueueEntry struct {
	Kind   gpu.ResourceKind
	Handle gpu.Handle
}

type DeleterConfig struct {
	Capacity uint32
	// Reset warns when occupancy exceeded this fraction of capacity, as an
	// early signal of undersized provisioning.
	WarnFraction float64
}

// DeferredDeleter decouples "logically freed" from "safe to physically
// free". One instance exists per frame slot; the scheduler flushes it at the
// start of the frame that reuses the slot, which is exactly framesInFlight
// frames after the entries were appended.
type DeferredDeleter struct {
	device  gpu.Device
	entries *containers.BoundedArray[DeleteQueueEntry]
	warnAt  int
}

func NewDeferredDeleter(device gpu.Device, cfg DeleterConfig) *DeferredDeleter {
	capacity := int(cfg.Capacity)
	if capacity == 0 {
		capacity = 256
	}
	warnFraction := cfg.WarnFraction
	if warnFraction <= 0 || warnFraction > 1 {
		warnFraction = 0.75
	}
	return &DeferredDeleter{
		device:  device,
		entries: containers.NewBoundedArray[DeleteQueueEntry](capacity),
		warnAt:  int(warnFraction * float64(capacity)),
	}
}

// Append schedules a single handle for deferred destruction. Nil handles are
// ignored so callers can append optional fields unconditionally.
func (dd *DeferredDeleter) Append(kind gpu.ResourceKind, handle gpu.Handle) {
	if handle == gpu.NilHandle {
		return
	}
	if err := dd.entries.Push(DeleteQueueEntry{Kind: kind, Handle: handle}); err != nil {
		// Dropping a destroy would leak GPU memory, so grow instead. This
		// allocates mid-frame, which is why it logs at error level.
		core.LogError("delete queue overflowed capacity %d; growing. Increase delete_queue_capacity", dd.entries.Cap())
		dd.entries.Grow(dd.entries.Cap() * 2)
		dd.entries.Push(DeleteQueueEntry{Kind: kind, Handle: handle})
	}
}

// AppendImage destructures an image bundle into individual entries. The view
// goes first so it is destroyed before the image it refers to, with the
// backing memory last.
func (dd *DeferredDeleter) AppendImage(bundle gpu.ImageBundle) {
	dd.Append(gpu.ResourceImageView, gpu.Handle(bundle.View))
	dd.Append(gpu.ResourceImage, gpu.Handle(bundle.Handle))
	dd.Append(gpu.ResourceMemory, gpu.Handle(bundle.Memory))
}

// Reset destroys every queued handle in insertion order and clears the queue
// retaining its capacity. Ordering is not semantically required, but keeping
// it deterministic makes logs and tests reproducible.
func (dd *DeferredDeleter) Reset() {
	if dd.entries.Len() >= dd.warnAt && dd.entries.Len() > 0 {
		core.LogWarn("delete queue at %d/%d entries before flush; consider raising delete_queue_capacity",
			dd.entries.Len(), dd.entries.Cap())
	}
	for i := 0; i < dd.entries.Len(); i++ {
		entry := dd.entries.At(i)
		dd.device.Destroy(entry.Kind, entry.Handle)
	}
	dd.entries.Clear()
}

func (dd *DeferredDeleter) Len() int {
	return dd.entries.Len()
}

func (dd *DeferredDeleter) Cap() int {
	return dd.entries.Cap()
}
