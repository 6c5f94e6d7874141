package gldev

// SetUnmap replaces the buffer unmap call of d.
func SetUnmap(d Device, unmap func(buf uint32) bool) {
	d.(*device).unmap = unmap
}

// UnmapArrayBuffer is the unmap call a device uses by default.
var UnmapArrayBuffer = unmapArrayBuffer
