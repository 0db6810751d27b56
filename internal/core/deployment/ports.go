package deployment

// =============================================================================
// Port Range Functions
// =============================================================================

// FindFreeRun returns the lowest base >= start such that base..base+size-1 are
// all free and base+size-1 <= ceiling. The second result is false when no such
// run exists.
//
// Probing jumps past the highest reserved port seen inside a candidate run, so
// a dense reserved prefix is skipped without re-checking every base.
//
// Example:
//
//	reserved := map[int]bool{20000: true, 20001: true}
//	base, ok := FindFreeRun(func(p int) bool { return reserved[p] }, 4, 20000, 65535)
//	// base == 20002, ok == true
func FindFreeRun(isReserved func(port int) bool, size, start, ceiling int) (int, bool) {
	if size <= 0 || start > ceiling {
		return 0, false
	}

	base := start
	for base+size-1 <= ceiling {
		blocked := -1
		for p := base + size - 1; p >= base; p-- {
			if isReserved(p) {
				blocked = p
				break
			}
		}
		if blocked < 0 {
			return base, true
		}
		base = blocked + 1
	}
	return 0, false
}

// PortRange returns size consecutive ports starting at base.
func PortRange(base, size int) []int {
	ports := make([]int, size)
	for i := range ports {
		ports[i] = base + i
	}
	return ports
}
