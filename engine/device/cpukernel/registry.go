package cpukernel

import (
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/Carmen-Shannon/automation/tools/worker"
	"github.com/Carmen-Shannon/pointfield/engine/interop"
)

// KernelFunc processes the half-open element range [start, end) of one dispatch. Ranges handed to
// concurrent invocations never overlap.
type KernelFunc func(start, end int, args Args) error

// Memory resolves an acquired allocation to its live bytes for the duration of a dispatch.
type Memory interface {
	// Resolve returns the bytes of alloc.
	//
	// Parameters:
	//   - alloc: the allocation passed as a buffer argument
	//
	// Returns:
	//   - []byte: the live allocation bytes
	//   - error: a *interop.DriverError if alloc is unknown or not acquired for compute
	Resolve(alloc interop.AllocationHandle) ([]byte, error)
}

type kernel struct {
	name  string
	arity int
	fn    KernelFunc
	args  []interop.ArgumentValue
	set   []bool
}

// Registry is the CPU "compute driver": it owns kernels, their positional argument tables and the
// worker pool that runs dispatches.
type Registry struct {
	mu       sync.Mutex
	kernels  map[interop.KernelHandle]*kernel
	next     interop.KernelHandle
	workers  int
	minChunk int
	pool     worker.DynamicWorkerPool
}

// RegistryBuilderOption is a functional option applied during NewRegistry.
type RegistryBuilderOption func(*Registry)

// WithWorkers sets the number of pool workers used for dispatches. Values below 1 are ignored.
//
// Parameters:
//   - n: the worker count
//
// Returns:
//   - RegistryBuilderOption: a function that sets the worker count
func WithWorkers(n int) RegistryBuilderOption {
	return func(r *Registry) {
		if n > 0 {
			r.workers = n
		}
	}
}

// WithMinChunk sets the smallest element range handed to one worker. Dispatches no larger than this
// run inline on the calling goroutine.
//
// Parameters:
//   - n: the minimum chunk size
//
// Returns:
//   - RegistryBuilderOption: a function that sets the chunk size
func WithMinChunk(n int) RegistryBuilderOption {
	return func(r *Registry) {
		if n > 0 {
			r.minChunk = n
		}
	}
}

// NewRegistry creates an empty kernel registry with its dispatch pool.
//
// Parameters:
//   - options: functional options (workers, chunk size)
//
// Returns:
//   - *Registry: the registry
func NewRegistry(options ...RegistryBuilderOption) *Registry {
	r := &Registry{
		kernels:  make(map[interop.KernelHandle]*kernel),
		workers:  runtime.NumCPU(),
		minChunk: 1024,
	}
	for _, opt := range options {
		opt(r)
	}
	// The pool outlives individual dispatches; idle workers exit on their own.
	r.pool = worker.NewDynamicWorkerPool(r.workers, 256, 1*time.Second)
	return r
}

// Register adds a kernel with a fixed number of positional arguments.
//
// Parameters:
//   - name: the kernel name used in diagnostics
//   - arity: the number of positional arguments
//   - fn: the range function
//
// Returns:
//   - interop.KernelHandle: the new kernel handle
func (r *Registry) Register(name string, arity int, fn KernelFunc) interop.KernelHandle {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.next++
	r.kernels[r.next] = &kernel{
		name:  name,
		arity: arity,
		fn:    fn,
		args:  make([]interop.ArgumentValue, arity),
		set:   make([]bool, arity),
	}
	return r.next
}

// Unregister drops a kernel and its argument table.
func (r *Registry) Unregister(k interop.KernelHandle) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.kernels[k]; !ok {
		return interop.NewDriverError("release-kernel", CodeInvalidKernel, fmt.Sprintf("unknown kernel %d", k))
	}
	delete(r.kernels, k)
	return nil
}

// Kernels returns the number of registered kernels.
func (r *Registry) Kernels() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.kernels)
}

// SetArgument stores value at position index of kernel k.
//
// Parameters:
//   - k: the kernel
//   - index: the positional argument slot
//   - value: the argument
//
// Returns:
//   - error: a *interop.DriverError with CodeInvalidKernel or CodeInvalidArgIndex on rejection
func (r *Registry) SetArgument(k interop.KernelHandle, index int, value interop.ArgumentValue) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	kern, ok := r.kernels[k]
	if !ok {
		return interop.NewDriverError("set-argument", CodeInvalidKernel, fmt.Sprintf("unknown kernel %d", k))
	}
	if index < 0 || index >= kern.arity {
		return interop.NewDriverError("set-argument", CodeInvalidArgIndex, fmt.Sprintf("kernel %q takes %d arguments, got index %d", kern.name, kern.arity, index))
	}
	kern.args[index] = value
	kern.set[index] = true
	return nil
}

// Arguments returns a copy of the argument table of kernel k.
func (r *Registry) Arguments(k interop.KernelHandle) ([]interop.ArgumentValue, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	kern, ok := r.kernels[k]
	if !ok {
		return nil, false
	}
	return append([]interop.ArgumentValue(nil), kern.args...), true
}

// Dispatch runs kernel k over globalSize elements, splitting the range across the pool and blocking
// until every chunk has returned.
//
// Parameters:
//   - k: the kernel
//   - globalSize: the number of elements
//   - mem: resolves buffer arguments to live bytes
//
// Returns:
//   - error: a *interop.DriverError if arguments are missing or unresolvable, or the first error a
//     chunk returned
func (r *Registry) Dispatch(k interop.KernelHandle, globalSize int, mem Memory) error {
	r.mu.Lock()
	kern, ok := r.kernels[k]
	if !ok {
		r.mu.Unlock()
		return interop.NewDriverError("dispatch", CodeInvalidKernel, fmt.Sprintf("unknown kernel %d", k))
	}
	values := append([]interop.ArgumentValue(nil), kern.args...)
	for i, set := range kern.set {
		if !set {
			r.mu.Unlock()
			return interop.NewDriverError("dispatch", CodeInvalidKernelArgs, fmt.Sprintf("kernel %q argument %d is not set", kern.name, i))
		}
	}
	fn := kern.fn
	r.mu.Unlock()

	if globalSize < 0 {
		return interop.NewDriverError("dispatch", CodeInvalidValue, fmt.Sprintf("negative global size %d", globalSize))
	}

	args := Args{values: values, views: make([][]byte, len(values))}
	for i, v := range values {
		if v.Kind != interop.ArgumentBuffer {
			continue
		}
		b, err := mem.Resolve(v.Allocation)
		if err != nil {
			return err
		}
		args.views[i] = b
	}

	chunk := r.chunkSize(globalSize)
	if chunk >= globalSize {
		return fn(0, globalSize, args)
	}

	var (
		wg       sync.WaitGroup
		errMu    sync.Mutex
		firstErr error
	)
	taskID := 0
	for start := 0; start < globalSize; start += chunk {
		end := min(start+chunk, globalSize)
		wg.Add(1)
		s, e := start, end
		r.pool.SubmitTask(worker.Task{
			ID: taskID,
			Do: func() (any, error) {
				defer wg.Done()
				if err := fn(s, e, args); err != nil {
					errMu.Lock()
					if firstErr == nil {
						firstErr = err
					}
					errMu.Unlock()
					return nil, err
				}
				return nil, nil
			},
		})
		taskID++
	}
	wg.Wait()
	return firstErr
}

// chunkSize spreads n elements over a few chunks per worker, never below minChunk.
func (r *Registry) chunkSize(n int) int {
	if n <= r.minChunk || r.workers <= 1 {
		return max(n, 1)
	}
	c := (n + r.workers*4 - 1) / (r.workers * 4)
	return max(c, r.minChunk)
}
