package cpukernel

// Driver error codes reported by the CPU-side devices. The values follow the OpenCL status codes
// so diagnostics read the same whichever backend produced them.
const (
	CodeOutOfResources    int32 = -5
	CodeInvalidValue      int32 = -30
	CodeInvalidQueue      int32 = -36
	CodeInvalidMemObject  int32 = -38
	CodeInvalidKernel     int32 = -48
	CodeInvalidArgIndex   int32 = -49
	CodeInvalidArgValue   int32 = -50
	CodeInvalidArgSize    int32 = -51
	CodeInvalidKernelArgs int32 = -52
	CodeInvalidOperation  int32 = -59
	CodeInvalidGLObject   int32 = -60
)
