package kv

// Reservations tracks the buffers handed out by Txn.Reserve for engines that
// cannot hand out memory of their own. The buffers are written to the engine
// at commit, in reservation order.
type Reservations struct {
	order [][]byte
	bufs  map[string][]byte
}

// Reserve returns a zeroed buffer of size bytes for key. Reserving the same
// key twice returns a fresh buffer that replaces the first one.
func (r *Reservations) Reserve(key []byte, size int) []byte {
	if r.bufs == nil {
		r.bufs = make(map[string][]byte)
	}
	buf := make([]byte, size)
	if _, ok := r.bufs[string(key)]; !ok {
		k := make([]byte, len(key))
		copy(k, key)
		r.order = append(r.order, k)
	}
	r.bufs[string(key)] = buf
	return buf
}

// Lookup returns the reserved buffer for key.
func (r *Reservations) Lookup(key []byte) ([]byte, bool) {
	buf, ok := r.bufs[string(key)]
	return buf, ok
}

// Forget drops a reservation, used when the key is overwritten by Put.
func (r *Reservations) Forget(key []byte) {
	if _, ok := r.bufs[string(key)]; !ok {
		return
	}
	delete(r.bufs, string(key))
	for i, k := range r.order {
		if string(k) == string(key) {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

func (r *Reservations) Len() int {
	return len(r.order)
}

// Each calls fn for every reservation in the order it was made.
func (r *Reservations) Each(fn func(key, buf []byte) error) error {
	for _, k := range r.order {
		if err := fn(k, r.bufs[string(k)]); err != nil {
			return err
		}
	}
	return nil
}

// Reset drops every reservation.
func (r *Reservations) Reset() {
	r.order = nil
	r.bufs = nil
}
