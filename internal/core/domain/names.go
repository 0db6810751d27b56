package domain

// =============================================================================
// Name Validation
// =============================================================================

const maxNameLength = 32

// Slugify converts a name to a slug usable as a network or node name.
//
// The transformation rules are:
//   - Lowercase letters (a-z), digits and hyphens are kept as-is
//   - Uppercase letters (A-Z) are converted to lowercase
//   - Spaces and underscores are converted to hyphens
//   - All other characters are removed
//
// Example:
//
//	Slugify("Alpha Net")  // returns "alpha-net"
//	Slugify("lnd_2!")     // returns "lnd-2"
func Slugify(name string) string {
	slug := make([]rune, 0, len(name))
	for _, r := range name {
		switch {
		case (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-':
			slug = append(slug, r)
		case r >= 'A' && r <= 'Z':
			slug = append(slug, r+32)
		case r == ' ' || r == '_':
			slug = append(slug, '-')
		}
	}
	return string(slug)
}

// ValidateName checks that name is already a slug that can be embedded in
// container and docker network names.
func ValidateName(name string) error {
	if name == "" || len(name) > maxNameLength {
		return ErrInvalidName
	}
	if name[0] == '-' {
		return ErrInvalidName
	}
	if Slugify(name) != name {
		return ErrInvalidName
	}
	return nil
}
