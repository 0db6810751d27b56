package deployment

import (
	"regexp"
	"strings"
)

// =============================================================================
// Variable Substitution Functions
// =============================================================================

// varPlaceholderRegex matches ${VAR} and ${VAR:-default} patterns.
// Groups:
//   - Group 1: Variable name (required)
//   - Group 2: ":-default" suffix (optional)
//   - Group 3: Default value
var varPlaceholderRegex = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(:-([^}]*))?\}`)

// SubstituteVariables replaces ${VAR} and ${VAR:-default} placeholders with
// values from the variables map.
//
// Behavior:
//   - ${VAR} - replaced with variables["VAR"] if exists, otherwise kept as-is
//   - ${VAR:-default} - replaced with variables["VAR"] if exists, otherwise "default"
//   - Unmatched text is left unchanged
//
// Examples:
//
//	SubstituteVariables("--alias=${ALIAS}", map[string]string{"ALIAS": "alice"})
//	// Returns: "--alias=alice"
//
//	SubstituteVariables("${MISSING}", nil)
//	// Returns: "${MISSING}"
func SubstituteVariables(value string, variables map[string]string) string {
	return varPlaceholderRegex.ReplaceAllStringFunc(value, func(match string) string {
		submatch := varPlaceholderRegex.FindStringSubmatch(match)
		if val, ok := variables[submatch[1]]; ok {
			return val
		}
		if submatch[2] != "" {
			return submatch[3]
		}
		return match
	})
}

// SubstituteAll applies SubstituteVariables to every argument.
func SubstituteAll(args []string, variables map[string]string) []string {
	if args == nil {
		return nil
	}
	out := make([]string, len(args))
	for i, a := range args {
		out[i] = SubstituteVariables(a, variables)
	}
	return out
}

// HostVariable returns the placeholder name that carries the container name of
// a dependency kind, e.g. "bitcoind" -> "BITCOIND_HOST".
func HostVariable(kind string) string {
	return strings.ToUpper(strings.ReplaceAll(kind, "-", "_")) + "_HOST"
}
