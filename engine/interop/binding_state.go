package interop

// BindingOwner tracks which subsystem may currently access an attribute set's GPU allocation.
type BindingOwner int

const (
	// Unbound is the state before Init: no GPU resources exist.
	Unbound BindingOwner = iota
	// OwnedByRender means the rasterizer may draw from the allocation.
	OwnedByRender
	// OwnedByCompute means the compute kernel may read and write the allocation.
	OwnedByCompute
	// Released is terminal: every native resource has been freed.
	Released
)

func (o BindingOwner) String() string {
	switch o {
	case Unbound:
		return "Unbound"
	case OwnedByRender:
		return "OwnedByRender"
	case OwnedByCompute:
		return "OwnedByCompute"
	case Released:
		return "Released"
	default:
		return "Unknown"
	}
}

// transition describes one legal edge of the ownership state machine.
type transition struct {
	op   string
	from BindingOwner
	to   BindingOwner
	kind ErrorKind
}

var (
	pushTransition = transition{op: "push", from: OwnedByRender, to: OwnedByCompute, kind: KindAcquire}
	popTransition  = transition{op: "pop", from: OwnedByCompute, to: OwnedByRender, kind: KindRelease}
)

// check returns the protocol violation for attempting t from the current state, or "" if legal.
func (t transition) check(current BindingOwner) string {
	if current == t.from {
		return ""
	}
	switch current {
	case Unbound:
		return "attribute set is not initialized"
	case Released:
		return "attribute set has been released"
	case t.to:
		if t.to == OwnedByCompute {
			return "double acquire: already owned by compute"
		}
		return "double release: already owned by render"
	default:
		return "illegal transition from " + current.String()
	}
}
