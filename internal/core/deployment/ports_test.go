package deployment

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// =============================================================================
// FindFreeRun Tests
// =============================================================================

func reservedSet(ports ...int) func(int) bool {
	set := make(map[int]bool, len(ports))
	for _, p := range ports {
		set[p] = true
	}
	return func(p int) bool { return set[p] }
}

func TestFindFreeRun_TableDriven(t *testing.T) {
	tests := []struct {
		name     string
		reserved []int
		size     int
		start    int
		ceiling  int
		wantBase int
		wantOK   bool
	}{
		{"empty", nil, 4, 20000, 65535, 20000, true},
		{"after first block", []int{20000, 20001, 20002, 20003}, 4, 20000, 65535, 20004, true},
		{"reuses gap", []int{20000, 20001, 20002, 20003, 20008, 20009}, 4, 20000, 65535, 20004, true},
		{"gap too small", []int{20000, 20003}, 3, 20000, 65535, 20004, true},
		{"exact fit at ceiling", nil, 4, 20000, 20003, 20000, true},
		{"exhausted", []int{20001}, 4, 20000, 20004, 0, false},
		{"start above ceiling", nil, 1, 20001, 20000, 0, false},
		{"zero size", nil, 0, 20000, 65535, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			base, ok := FindFreeRun(reservedSet(tt.reserved...), tt.size, tt.start, tt.ceiling)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.wantBase, base)
		})
	}
}

func TestPortRange(t *testing.T) {
	assert.Equal(t, []int{20000, 20001, 20002}, PortRange(20000, 3))
	assert.Empty(t, PortRange(20000, 0))
}
