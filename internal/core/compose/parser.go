package compose

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/compose-spec/compose-go/v2/loader"
	"github.com/compose-spec/compose-go/v2/types"
	"gopkg.in/yaml.v3"
)

// =============================================================================
// Parser Functions
// =============================================================================

// ParseComposeSpec parses compose YAML into a ParsedSpec.
// This is a pure function - no I/O, no side effects.
//
// Services are returned sorted by name. Dependencies are sorted as well, so the
// output is deterministic. Literal "${VAR}" placeholders meant for later
// substitution must be escaped as "$${VAR}" in the YAML.
func ParseComposeSpec(yamlContent string) (*ParsedSpec, error) {
	// Input validation
	if strings.TrimSpace(yamlContent) == "" {
		return nil, ErrEmptyInput
	}

	dict, err := parseYAML(yamlContent)
	if err != nil {
		return nil, err
	}

	// Parse using compose-go
	project, err := loadComposeSpec(yamlContent, dict)
	if err != nil {
		return nil, err
	}

	// Check for unsupported features first
	if err := checkUnsupportedFeatures(project); err != nil {
		return nil, err
	}

	// Validate required fields
	if len(project.Services) == 0 {
		return nil, ErrNoServices
	}

	names := make([]string, 0, len(project.Services))
	for name := range project.Services {
		names = append(names, name)
	}
	sort.Strings(names)

	spec := &ParsedSpec{
		Services: make([]Service, 0, len(names)),
	}

	for _, name := range names {
		converted, err := convertService(project.Services[name])
		if err != nil {
			return nil, err
		}
		converted.Extensions = serviceExtensions(dict, name)
		spec.Services = append(spec.Services, converted)
	}

	// Validate no circular dependencies
	if err := detectCircularDependencies(spec.Services); err != nil {
		return nil, err
	}

	// Validate ports
	if err := validatePorts(spec.Services); err != nil {
		return nil, err
	}

	return spec, nil
}

// parseYAML decodes the raw document so loader errors can be told apart from
// syntax errors and so x- extensions can be read verbatim.
func parseYAML(yamlContent string) (map[string]interface{}, error) {
	var dict map[string]interface{}
	if err := yaml.Unmarshal([]byte(yamlContent), &dict); err != nil {
		return nil, NewParseError("", "invalid YAML syntax", ErrInvalidYAML)
	}
	if dict == nil {
		return nil, NewParseError("", "invalid YAML syntax", ErrInvalidYAML)
	}
	return dict, nil
}

// loadComposeSpec loads a compose spec using compose-go
func loadComposeSpec(yamlContent string, dict map[string]interface{}) (*types.Project, error) {
	project, err := loader.LoadWithContext(context.Background(), types.ConfigDetails{
		ConfigFiles: []types.ConfigFile{
			{
				Content: []byte(yamlContent),
				Config:  dict,
			},
		},
	}, func(opts *loader.Options) {
		opts.SetProjectName("lnlab-catalog", false)
		opts.SkipValidation = false
		opts.SkipInterpolation = false // resolves $$ escapes
		opts.SkipNormalization = true
		opts.SkipExtends = true
	})
	if err != nil {
		errStr := err.Error()
		if strings.Contains(errStr, "dependency cycle detected") {
			return nil, NewParseError("", "circular dependency detected", ErrCircularDependency)
		}
		if strings.Contains(errStr, "image") && strings.Contains(errStr, "build") {
			return nil, NewParseError("", "service must have an image", ErrServiceNoImage)
		}
		return nil, NewParseError("", errStr, ErrInvalidYAML)
	}

	return project, nil
}

// checkUnsupportedFeatures rejects compose features a node template cannot express.
func checkUnsupportedFeatures(project *types.Project) error {
	if len(project.Secrets) > 0 {
		return NewParseError("secrets", "secrets are not supported", ErrUnsupportedFeature)
	}
	if len(project.Configs) > 0 {
		return NewParseError("configs", "configs are not supported", ErrUnsupportedFeature)
	}
	if len(project.Volumes) > 0 {
		return NewParseError("volumes", "named volumes are not supported", ErrUnsupportedFeature)
	}

	for _, svc := range project.Services {
		if svc.Build != nil {
			return NewParseError("services."+svc.Name+".build", "build is not supported", ErrUnsupportedFeature)
		}
		if len(svc.Volumes) > 0 {
			return NewParseError("services."+svc.Name+".volumes", "volumes are not supported", ErrUnsupportedFeature)
		}
	}

	return nil
}

// convertService converts a compose-go service to our Service type
func convertService(svc types.ServiceConfig) (Service, error) {
	service := Service{
		Name:      svc.Name,
		Image:     svc.Image,
		Command:   svc.Command,
		Labels:    make(map[string]string),
		DependsOn: make([]string, 0, len(svc.DependsOn)),
	}

	if service.Image == "" {
		return Service{}, NewParseError("services."+svc.Name, "service must have an image", ErrServiceNoImage)
	}

	// Ports
	for _, p := range svc.Ports {
		proto := p.Protocol
		if proto == "" {
			proto = "tcp"
		}
		service.Ports = append(service.Ports, Port{
			Name:     p.Name,
			Target:   p.Target,
			Protocol: proto,
		})
	}

	// DependsOn
	for dep := range svc.DependsOn {
		service.DependsOn = append(service.DependsOn, dep)
	}
	sort.Strings(service.DependsOn)

	// Labels
	for k, v := range svc.Labels {
		service.Labels[k] = v
	}

	// HealthCheck
	if svc.HealthCheck != nil && !svc.HealthCheck.Disable {
		service.HealthCheck = &HealthCheck{
			Test: svc.HealthCheck.Test,
		}
		if svc.HealthCheck.Retries != nil {
			service.HealthCheck.Retries = int(*svc.HealthCheck.Retries)
		}
		if svc.HealthCheck.Interval != nil {
			service.HealthCheck.Interval = svc.HealthCheck.Interval.String()
		}
		if svc.HealthCheck.Timeout != nil {
			service.HealthCheck.Timeout = svc.HealthCheck.Timeout.String()
		}
	}

	return service, nil
}

// serviceExtensions returns the x- keys of a service as decoded from YAML.
func serviceExtensions(dict map[string]interface{}, name string) map[string]any {
	services, _ := dict["services"].(map[string]interface{})
	raw, _ := services[name].(map[string]interface{})

	ext := make(map[string]any)
	for k, v := range raw {
		if strings.HasPrefix(k, "x-") {
			ext[k] = v
		}
	}
	return ext
}

// StringList decodes an extension value shaped as a list of strings, e.g. a
// command prefix.
func StringList(value any) ([]string, error) {
	if value == nil {
		return nil, nil
	}
	items, ok := value.([]interface{})
	if !ok {
		return nil, fmt.Errorf("%w: expected a list, got %T", ErrInvalidExtension, value)
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		s, ok := item.(string)
		if !ok {
			return nil, fmt.Errorf("%w: list contains %T, expected a string", ErrInvalidExtension, item)
		}
		out = append(out, s)
	}
	return out, nil
}

// StringMatrix decodes an extension value shaped as a list of string lists,
// e.g. a list of commands.
func StringMatrix(value any) ([][]string, error) {
	if value == nil {
		return nil, nil
	}
	rows, ok := value.([]interface{})
	if !ok {
		return nil, fmt.Errorf("%w: expected a list, got %T", ErrInvalidExtension, value)
	}

	out := make([][]string, 0, len(rows))
	for i, row := range rows {
		if _, ok := row.([]interface{}); !ok {
			return nil, fmt.Errorf("%w: entry %d is %T, expected a list", ErrInvalidExtension, i, row)
		}
		cmd, err := StringList(row)
		if err != nil {
			return nil, fmt.Errorf("entry %d: %w", i, err)
		}
		out = append(out, cmd)
	}
	return out, nil
}

// detectCircularDependencies detects circular dependencies in service dependencies
func detectCircularDependencies(services []Service) error {
	// Build adjacency list
	deps := make(map[string][]string)
	for _, svc := range services {
		deps[svc.Name] = svc.DependsOn
	}

	// Track visited and recursion stack for DFS
	visited := make(map[string]bool)
	recStack := make(map[string]bool)

	var hasCycle func(node string) bool
	hasCycle = func(node string) bool {
		visited[node] = true
		recStack[node] = true

		for _, dep := range deps[node] {
			if dep == node {
				return true
			}
			if !visited[dep] {
				if hasCycle(dep) {
					return true
				}
			} else if recStack[dep] {
				return true
			}
		}

		recStack[node] = false
		return false
	}

	for _, svc := range services {
		if !visited[svc.Name] {
			if hasCycle(svc.Name) {
				return ErrCircularDependency
			}
		}
	}

	return nil
}

// validatePorts requires every port to be named, unique within its service and
// in range.
func validatePorts(services []Service) error {
	for _, svc := range services {
		seen := make(map[string]bool, len(svc.Ports))
		for i, port := range svc.Ports {
			field := fmt.Sprintf("services.%s.ports[%d]", svc.Name, i)
			if port.Name == "" {
				return NewParseError(field, "port must be named", ErrServiceInvalidPort)
			}
			if seen[port.Name] {
				return NewParseError(field, "duplicate port name "+port.Name, ErrServiceInvalidPort)
			}
			seen[port.Name] = true
			if port.Target == 0 {
				return NewParseError(field, "target port cannot be 0", ErrServiceInvalidPort)
			}
			if port.Target > 65535 {
				return NewParseError(field, "target port must be <= 65535", ErrServiceInvalidPort)
			}
		}
	}
	return nil
}
