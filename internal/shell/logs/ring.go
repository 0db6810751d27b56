package logs

// ring is a fixed-capacity FIFO of lines that overwrites the oldest entry
// when full.
type ring struct {
	buf   []string
	head  int
	count int
}

func newRing(size int) *ring {
	if size < 1 {
		size = 1
	}
	return &ring{buf: make([]string, size)}
}

// push appends line and reports whether the oldest line was dropped.
func (r *ring) push(line string) bool {
	if r.count == len(r.buf) {
		r.buf[r.head] = line
		r.head = (r.head + 1) % len(r.buf)
		return true
	}
	r.buf[(r.head+r.count)%len(r.buf)] = line
	r.count++
	return false
}

func (r *ring) pop() (string, bool) {
	if r.count == 0 {
		return "", false
	}
	line := r.buf[r.head]
	r.buf[r.head] = ""
	r.head = (r.head + 1) % len(r.buf)
	r.count--
	return line, true
}

// snapshot returns the buffered lines oldest first.
func (r *ring) snapshot() []string {
	out := make([]string, 0, r.count)
	for i := 0; i < r.count; i++ {
		out = append(out, r.buf[(r.head+i)%len(r.buf)])
	}
	return out
}
