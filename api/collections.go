package api

import (
	"errors"
	"fmt"
)

// ErrReadOnly is returned by RemoteMap.Set when the map has no setter
// operation on the host. It is detected locally; no request is sent.
var ErrReadOnly = errors.New("remote map is read-only")

// ErrIndexOutOfRange is returned by RemoteSequence.Get when the index
// falls outside the sequence as it exists on the host right now.
var ErrIndexOutOfRange = errors.New("index out of range")

// RemoteMap is a key/value view backed entirely by the host. Every Get
// and Set issues a fresh request, so concurrent mutation by other
// clients is always visible. Maps without a setter (v: variables) fail
// Set locally with ErrReadOnly.
type RemoteMap struct {
	v    *Nvim
	get  string
	set  string
	self []any
}

func newRemoteMap(v *Nvim, get, set string, self ...any) *RemoteMap {
	return &RemoteMap{v: v, get: get, set: set, self: self}
}

// Get fetches the value stored under key. Missing keys surface as the
// host's own error, typically a *session.HostError.
func (m *RemoteMap) Get(key string) (any, error) {
	args := make([]any, 0, len(m.self)+1)
	args = append(args, m.self...)
	args = append(args, key)
	return m.v.Request(m.get, args...)
}

// Set stores value under key.
func (m *RemoteMap) Set(key string, value any) error {
	if m.set == "" {
		return fmt.Errorf("%w: set %q via %s", ErrReadOnly, key, m.get)
	}
	args := make([]any, 0, len(m.self)+2)
	args = append(args, m.self...)
	args = append(args, key, value)
	_, err := m.v.Request(m.set, args...)
	return err
}

// RemoteSequence is an ordered collection owned by the host, such as
// the list of open buffers. It caches nothing: each accessor fetches
// the current contents, so the same index can yield different entities
// across calls if the host mutated the collection in between.
type RemoteSequence struct {
	v      *Nvim
	method string
}

func newRemoteSequence(v *Nvim, method string) *RemoteSequence {
	return &RemoteSequence{v: v, method: method}
}

// All fetches the whole sequence.
func (q *RemoteSequence) All() ([]any, error) {
	res, err := q.v.Request(q.method)
	if err != nil {
		return nil, err
	}
	items, ok := res.([]any)
	if !ok {
		return nil, unexpectedType("sequence", res)
	}
	return items, nil
}

// Len returns the current length of the sequence.
func (q *RemoteSequence) Len() (int, error) {
	items, err := q.All()
	if err != nil {
		return 0, err
	}
	return len(items), nil
}

// Get returns the element at index. Negative indexes count from the
// end, so Get(-1) is the last element.
func (q *RemoteSequence) Get(index int) (any, error) {
	items, err := q.All()
	if err != nil {
		return nil, err
	}
	i := index
	if i < 0 {
		i += len(items)
	}
	if i < 0 || i >= len(items) {
		return nil, fmt.Errorf("%w: %d (len %d)", ErrIndexOutOfRange, index, len(items))
	}
	return items[i], nil
}

// Slice returns the elements in [start, end). Negative bounds count
// from the end and out-of-range bounds are clamped, so Slice never
// fails on an empty overlap; it returns an empty slice instead.
func (q *RemoteSequence) Slice(start, end int) ([]any, error) {
	items, err := q.All()
	if err != nil {
		return nil, err
	}
	n := len(items)
	if start < 0 {
		start += n
	}
	if end < 0 {
		end += n
	}
	start = min(max(start, 0), n)
	end = min(max(end, 0), n)
	if start >= end {
		return nil, nil
	}
	return items[start:end], nil
}
