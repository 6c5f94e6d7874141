package hostdev

// Driver operation names, used for fault injection and call accounting.
const (
	OpCreateVertexArray   = "create-vertex-array"
	OpCreateVertexBuffer  = "create-vertex-buffer"
	OpUploadBufferData    = "upload-buffer-data"
	OpBindVertexAttribute = "bind-vertex-attribute"
	OpDestroyBuffer       = "destroy-buffer"
	OpDestroyVertexArray  = "destroy-vertex-array"
	OpCreateSharedBuffer  = "create-shared-buffer"
	OpAcquire             = "acquire"
	OpRelease             = "release"
	OpSetKernelArgument   = "set-kernel-argument"
	OpReleaseAllocation   = "release-allocation"
	OpDispatch            = "dispatch"
	OpDraw                = "draw"
)

// Fault makes a future driver call fail with a given status code.
type Fault struct {
	// Op is the operation to fail, one of the Op* constants.
	Op string
	// Skip is the number of matching calls to let through before failing.
	Skip int
	// Code is the driver status code reported.
	Code int32
	// Index applies to acquire and release: handles before Index are transferred, the call then
	// fails naming Index. Zero fails the whole batch.
	Index int
}

// takeFault consumes the first armed fault matching op, if it is due. Caller holds d.mu.
func (d *device) takeFault(op string) (Fault, bool) {
	d.calls[op]++
	for i := range d.faults {
		f := &d.faults[i]
		if f.Op != op {
			continue
		}
		if f.Skip > 0 {
			f.Skip--
			return Fault{}, false
		}
		hit := *f
		d.faults = append(d.faults[:i], d.faults[i+1:]...)
		return hit, true
	}
	return Fault{}, false
}
