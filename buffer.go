package someip

// recvBuffer is the growable receive buffer of an endpoint.
//
// len(data) is the capacity. The first fill bytes hold unconsumed data.
// It is owned by the read goroutine and must not be shared.
type recvBuffer struct {
	data    []byte
	fill    int
	initial int

	// missing is the number of bytes still required to complete the
	// message at the front of the buffer; 0 when nothing is pending.
	missing int

	shrinkCount     int
	shrinkThreshold int
}

func newRecvBuffer(initial, shrinkThreshold int) *recvBuffer {
	if initial <= 0 {
		initial = HeaderSize
	}
	return &recvBuffer{
		data:            make([]byte, initial),
		initial:         initial,
		shrinkThreshold: shrinkThreshold,
	}
}

func (b *recvBuffer) capacity() int {
	return len(b.data)
}

// bytes returns the unconsumed data.
func (b *recvBuffer) bytes() []byte {
	return b.data[:b.fill]
}

// prepare returns the free region the next read may fill.
//
// A pending shortfall grows the buffer first and limits the read to the
// shortfall. An empty buffer under enough shrink pressure is returned to its
// initial size.
func (b *recvBuffer) prepare() []byte {
	size := b.capacity() - b.fill
	if b.missing > 0 {
		b.ensureCapacity(b.fill + b.missing)
		size = b.missing
		b.missing = 0
	} else if b.shrinkThreshold > 0 && b.shrinkCount > b.shrinkThreshold && b.fill == 0 {
		b.shrinkTo(b.initial)
		size = b.initial
		b.shrinkCount = 0
	}
	return b.data[b.fill : b.fill+size]
}

// commit accounts n bytes written into the region returned by prepare.
func (b *recvBuffer) commit(n int) {
	if n < 0 || b.fill+n > b.capacity() {
		panic("someip: receive buffer overflow")
	}
	b.fill += n
}

// ensureCapacity grows the buffer to at least n bytes, keeping its content.
func (b *recvBuffer) ensureCapacity(n int) {
	if n <= b.capacity() {
		return
	}
	grown := make([]byte, n)
	copy(grown, b.data[:b.fill])
	b.data = grown
}

// shrinkTo reallocates the buffer with n bytes of capacity. It is a no-op
// if that would cut into unconsumed data.
func (b *recvBuffer) shrinkTo(n int) {
	if n < b.fill || n == b.capacity() {
		return
	}
	shrunk := make([]byte, n)
	copy(shrunk, b.data[:b.fill])
	b.data = shrunk
}

// noteShrinkPressure is called once per consumed message, before the
// message is removed from fill.
func (b *recvBuffer) noteShrinkPressure() {
	if b.shrinkThreshold == 0 || b.capacity() == b.initial {
		return
	}
	if b.fill < b.capacity()>>1 {
		b.shrinkCount++
	} else {
		b.shrinkCount = 0
	}
}

// compactFrom moves the fill bytes found at offset to the front of the
// buffer. The caller has already subtracted the consumed prefix from fill.
func (b *recvBuffer) compactFrom(offset int) {
	if offset == 0 {
		return
	}
	if offset+b.fill > b.capacity() {
		panic("someip: compact beyond buffer capacity")
	}
	copy(b.data, b.data[offset:offset+b.fill])
	if b.missing > 0 && b.missing <= b.capacity()-b.fill {
		b.missing = 0
	}
}

// reset drops all buffered data and pending state, keeping the capacity.
func (b *recvBuffer) reset() {
	b.fill = 0
	b.missing = 0
}
