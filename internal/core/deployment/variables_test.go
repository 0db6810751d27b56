package deployment

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// =============================================================================
// SubstituteVariables Tests
// =============================================================================

func TestSubstituteVariables_TableDriven(t *testing.T) {
	vars := map[string]string{
		"ALIAS":         "alice",
		"BITCOIND_HOST": "lnlab-alpha-bitcoind-1",
		"EMPTY":         "",
	}

	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"simple", "--alias=${ALIAS}", "--alias=alice"},
		{"embedded twice", "tcp://${BITCOIND_HOST}:28334/${BITCOIND_HOST}", "tcp://lnlab-alpha-bitcoind-1:28334/lnlab-alpha-bitcoind-1"},
		{"missing kept", "${MISSING}", "${MISSING}"},
		{"default used", "${MISSING:-fallback}", "fallback"},
		{"empty default", "x${MISSING:-}y", "xy"},
		{"value beats default", "${ALIAS:-bob}", "alice"},
		{"empty value", "[${EMPTY}]", "[]"},
		{"no placeholders", "bitcoind -regtest", "bitcoind -regtest"},
		{"bare dollar", "$ALIAS", "$ALIAS"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, SubstituteVariables(tt.input, vars))
		})
	}
}

func TestSubstituteVariables_NilVariables(t *testing.T) {
	assert.Equal(t, "${A}", SubstituteVariables("${A}", nil))
	assert.Equal(t, "d", SubstituteVariables("${A:-d}", nil))
}

func TestSubstituteAll(t *testing.T) {
	assert.Nil(t, SubstituteAll(nil, nil))
	assert.Equal(t,
		[]string{"lnd", "--alias=alice"},
		SubstituteAll([]string{"lnd", "--alias=${ALIAS}"}, map[string]string{"ALIAS": "alice"}),
	)
}

func TestHostVariable(t *testing.T) {
	assert.Equal(t, "BITCOIND_HOST", HostVariable("bitcoind"))
	assert.Equal(t, "CORE_LN_HOST", HostVariable("core-ln"))
}
