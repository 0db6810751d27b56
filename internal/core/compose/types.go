package compose

// =============================================================================
// ParsedSpec - Main Output Type
// =============================================================================

// ParsedSpec represents a parsed compose-format node catalog.
// It is decoupled from compose-go types.
type ParsedSpec struct {
	Services []Service `json:"services"`
}

// Service returns the service with the given name.
func (s *ParsedSpec) Service(name string) (Service, bool) {
	for _, svc := range s.Services {
		if svc.Name == name {
			return svc, true
		}
	}
	return Service{}, false
}

// =============================================================================
// Service Types
// =============================================================================

// Service represents a single service definition.
type Service struct {
	Name        string            `json:"name"`
	Image       string            `json:"image"`
	Command     []string          `json:"command,omitempty"`
	Ports       []Port            `json:"ports,omitempty"`
	DependsOn   []string          `json:"depends_on,omitempty"`
	HealthCheck *HealthCheck      `json:"healthcheck,omitempty"`
	Labels      map[string]string `json:"labels,omitempty"`
	Extensions  map[string]any    `json:"extensions,omitempty"`
}

// Port represents a named container port.
type Port struct {
	Name     string `json:"name"`
	Target   uint32 `json:"target"`
	Protocol string `json:"protocol,omitempty"`
}

// HealthCheck represents health check configuration.
type HealthCheck struct {
	Test     []string `json:"test"`
	Interval string   `json:"interval,omitempty"`
	Timeout  string   `json:"timeout,omitempty"`
	Retries  int      `json:"retries,omitempty"`
}

// Command returns the health check command without its CMD or CMD-SHELL
// prefix. CMD-SHELL tests are wrapped in "sh -c".
func (h *HealthCheck) Command() []string {
	if h == nil || len(h.Test) == 0 {
		return nil
	}
	switch h.Test[0] {
	case "NONE":
		return nil
	case "CMD":
		return h.Test[1:]
	case "CMD-SHELL":
		if len(h.Test) < 2 {
			return nil
		}
		return []string{"sh", "-c", h.Test[1]}
	default:
		return h.Test
	}
}
