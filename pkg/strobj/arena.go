package strobj

import (
	"bytes"
	"errors"
	"fmt"
)

var (
	// ErrStaleHandle is returned when a handle refers to an object that has
	// already been freed, or was never issued by this arena.
	ErrStaleHandle = errors.New("stale string handle")

	// ErrNilHandle is returned when the zero Handle is used as a string.
	ErrNilHandle = errors.New("nil string handle")
)

// Handle refers to a string object owned by an Arena.
// The zero Handle is nil and never refers to a live object.
type Handle struct {
	index uint32
	gen   uint32
}

// IsNil reports whether h is the zero Handle.
func (h Handle) IsNil() bool {
	return h.gen == 0
}

// String formats the handle for diagnostics.
func (h Handle) String() string {
	if h.IsNil() {
		return "str#nil"
	}
	return fmt.Sprintf("str#%d.%d", h.index, h.gen)
}

type object struct {
	data []byte
	refs int32
	gen  uint32
}

// Stats is a snapshot of arena activity.
type Stats struct {
	Allocs   uint64 // objects created
	Frees    uint64 // objects freed
	Live     int    // objects currently alive
	Slots    int    // arena slots ever created
	LiveSize int    // bytes held by live objects
}

// Arena owns string objects and hands out generation-checked handles.
// An Arena is not safe for concurrent use; each VM owns its own.
type Arena struct {
	objects []object
	free    []uint32
	live    int
	size    int
	allocs  uint64
	frees   uint64
}

// NewArena creates an empty arena.
func NewArena() *Arena {
	return &Arena{
		objects: make([]object, 0, 16),
	}
}

// Alloc creates an object holding a zeroed buffer of exactly length bytes.
// The caller fills it through Bytes.
func (a *Arena) Alloc(length int) Handle {
	if length < 0 {
		length = 0
	}
	return a.adopt(make([]byte, length))
}

// FromBytes creates an object holding a copy of b.
func (a *Arena) FromBytes(b []byte) Handle {
	return a.adopt(bytes.Clone(b))
}

// FromString creates an object holding the bytes of s.
func (a *Arena) FromString(s string) Handle {
	return a.adopt([]byte(s))
}

// adopt stores data in a free slot, or a new one, with a single reference.
func (a *Arena) adopt(data []byte) Handle {
	if data == nil {
		data = []byte{}
	}

	var idx uint32
	if n := len(a.free); n > 0 {
		idx = a.free[n-1]
		a.free = a.free[:n-1]
	} else {
		idx = uint32(len(a.objects))
		a.objects = append(a.objects, object{})
	}

	obj := &a.objects[idx]
	obj.gen++
	if obj.gen == 0 {
		obj.gen = 1
	}
	obj.data = data
	obj.refs = 1

	a.live++
	a.size += len(data)
	a.allocs++
	return Handle{index: idx, gen: obj.gen}
}

// lookup resolves h to its object or reports why it cannot.
func (a *Arena) lookup(h Handle) (*object, error) {
	if h.IsNil() {
		return nil, ErrNilHandle
	}
	if int(h.index) >= len(a.objects) {
		return nil, fmt.Errorf("%w: %s", ErrStaleHandle, h)
	}
	obj := &a.objects[h.index]
	if obj.gen != h.gen || obj.refs <= 0 {
		return nil, fmt.Errorf("%w: %s", ErrStaleHandle, h)
	}
	return obj, nil
}

// Bytes returns the buffer of the object. The slice aliases the object and
// is only valid while the caller holds a reference.
func (a *Arena) Bytes(h Handle) ([]byte, error) {
	obj, err := a.lookup(h)
	if err != nil {
		return nil, err
	}
	return obj.data, nil
}

// Len returns the length of the object in bytes.
func (a *Arena) Len(h Handle) (int, error) {
	obj, err := a.lookup(h)
	if err != nil {
		return 0, err
	}
	return len(obj.data), nil
}

// String returns a copy of the object's bytes as a Go string.
func (a *Arena) String(h Handle) (string, error) {
	obj, err := a.lookup(h)
	if err != nil {
		return "", err
	}
	return string(obj.data), nil
}

// Refs returns the current reference count of the object.
func (a *Arena) Refs(h Handle) (int, error) {
	obj, err := a.lookup(h)
	if err != nil {
		return 0, err
	}
	return int(obj.refs), nil
}

// Retain adds a reference to the object.
func (a *Arena) Retain(h Handle) error {
	obj, err := a.lookup(h)
	if err != nil {
		return err
	}
	obj.refs++
	return nil
}

// Release drops a reference to the object, freeing it when none remain.
// Releasing a freed object returns ErrStaleHandle and changes nothing.
func (a *Arena) Release(h Handle) error {
	obj, err := a.lookup(h)
	if err != nil {
		return err
	}
	obj.refs--
	if obj.refs > 0 {
		return nil
	}

	a.size -= len(obj.data)
	obj.data = nil
	obj.refs = 0
	// Bump the generation now so handles to the freed object go stale
	// even before the slot is reused.
	obj.gen++
	if obj.gen == 0 {
		obj.gen = 1
	}
	a.free = append(a.free, h.index)
	a.live--
	a.frees++
	return nil
}

// Concat creates a new object holding x's bytes followed by y's bytes.
// Neither operand is modified or released.
func (a *Arena) Concat(x, y Handle) (Handle, error) {
	xb, err := a.Bytes(x)
	if err != nil {
		return Handle{}, err
	}
	yb, err := a.Bytes(y)
	if err != nil {
		return Handle{}, err
	}

	data := make([]byte, len(xb)+len(yb))
	copy(data, xb)
	copy(data[len(xb):], yb)
	return a.adopt(data), nil
}

// Equal reports whether x and y have the same length and the same bytes.
// Two empty strings are equal.
func (a *Arena) Equal(x, y Handle) (bool, error) {
	xb, err := a.Bytes(x)
	if err != nil {
		return false, err
	}
	yb, err := a.Bytes(y)
	if err != nil {
		return false, err
	}
	if len(xb) != len(yb) {
		return false, nil
	}
	return bytes.Equal(xb, yb), nil
}

// Live returns the number of objects that have not been freed.
func (a *Arena) Live() int {
	return a.live
}

// Stats returns a snapshot of arena counters.
func (a *Arena) Stats() Stats {
	return Stats{
		Allocs:   a.allocs,
		Frees:    a.frees,
		Live:     a.live,
		Slots:    len(a.objects),
		LiveSize: a.size,
	}
}
