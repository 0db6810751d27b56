// Package template provides the node template registry: a read-only mapping
// from node kind to its declarative requirements. Templates are defined in an
// embedded compose-format catalog.
package template

import (
	_ "embed"
	"errors"
	"fmt"

	"github.com/artpar/lnlab/internal/core/compose"
	"github.com/artpar/lnlab/internal/core/deployment"
	"github.com/artpar/lnlab/internal/core/domain"
)

//go:embed catalog.yaml
var catalogYAML string

const (
	// initExtension lists post-start commands run inside a new container.
	initExtension = "x-lnlab-init"
	// cliExtension is the command prefix that talks to the node's daemon.
	cliExtension = "x-lnlab-cli"
)

var (
	ErrUnknownKind    = errors.New("unknown node kind")
	ErrInvalidCatalog = errors.New("invalid template catalog")
)

// =============================================================================
// Template
// =============================================================================

// PortSpec is one named container port a node kind exposes.
type PortSpec struct {
	Purpose       string
	ContainerPort int
	Protocol      string
}

// Template is the declarative descriptor of a node kind.
type Template struct {
	Kind      domain.NodeKind
	Image     string
	Ports     []PortSpec
	Command   []string
	DependsOn []domain.NodeKind
	Probe     []string
	Init      [][]string
	CLI       []string
}

// CLICommand returns the node's CLI prefix followed by args.
func (t Template) CLICommand(args ...string) []string {
	out := make([]string, 0, len(t.CLI)+len(args))
	out = append(out, t.CLI...)
	return append(out, args...)
}

// PortCount returns the number of host ports a node of this kind reserves.
func (t Template) PortCount() int {
	return len(t.Ports)
}

// Protocols maps each port purpose to its protocol.
func (t Template) Protocols() map[string]string {
	out := make(map[string]string, len(t.Ports))
	for _, p := range t.Ports {
		out[p.Purpose] = p.Protocol
	}
	return out
}

// BuildPortBlock binds allocated host ports to the template's ports in order.
// hostPorts must be contiguous and match PortCount.
func (t Template) BuildPortBlock(hostPorts []int) (domain.PortBlock, error) {
	if len(hostPorts) != len(t.Ports) {
		return domain.PortBlock{}, fmt.Errorf("%s needs %d ports, got %d", t.Kind, len(t.Ports), len(hostPorts))
	}
	block := domain.PortBlock{Bindings: make([]domain.PortBinding, 0, len(t.Ports))}
	if len(hostPorts) > 0 {
		block.Base = hostPorts[0]
	}
	for i, p := range t.Ports {
		block.Bindings = append(block.Bindings, domain.PortBinding{
			Purpose:       p.Purpose,
			HostPort:      hostPorts[i],
			ContainerPort: p.ContainerPort,
		})
	}
	if err := block.Validate(); err != nil {
		return domain.PortBlock{}, err
	}
	return block, nil
}

// =============================================================================
// Registry
// =============================================================================

// Registry resolves node kinds to templates. It is immutable after Load.
type Registry struct {
	templates map[domain.NodeKind]Template
	levels    [][]domain.NodeKind
}

// Load builds the registry from the embedded catalog.
func Load() (*Registry, error) {
	return Parse(catalogYAML)
}

// Parse builds a registry from a compose-format catalog. Each service is one
// node kind; its healthcheck becomes the liveness probe.
func Parse(catalog string) (*Registry, error) {
	spec, err := compose.ParseComposeSpec(catalog)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidCatalog, err)
	}

	levels, err := deployment.DependencyLevels(spec.Services)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidCatalog, err)
	}

	r := &Registry{templates: make(map[domain.NodeKind]Template, len(spec.Services))}
	for _, svc := range spec.Services {
		tmpl, err := fromService(svc)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidCatalog, err)
		}
		r.templates[tmpl.Kind] = tmpl
	}

	for _, level := range levels {
		kinds := make([]domain.NodeKind, 0, len(level))
		for _, svc := range level {
			kinds = append(kinds, domain.NodeKind(svc.Name))
		}
		r.levels = append(r.levels, kinds)
	}

	return r, nil
}

func fromService(svc compose.Service) (Template, error) {
	if len(svc.Ports) == 0 {
		return Template{}, fmt.Errorf("service %s declares no ports", svc.Name)
	}

	tmpl := Template{
		Kind:    domain.NodeKind(svc.Name),
		Image:   svc.Image,
		Command: svc.Command,
		Probe:   svc.HealthCheck.Command(),
	}
	for _, p := range svc.Ports {
		tmpl.Ports = append(tmpl.Ports, PortSpec{
			Purpose:       p.Name,
			ContainerPort: int(p.Target),
			Protocol:      p.Protocol,
		})
	}
	for _, dep := range svc.DependsOn {
		tmpl.DependsOn = append(tmpl.DependsOn, domain.NodeKind(dep))
	}

	init, err := compose.StringMatrix(svc.Extensions[initExtension])
	if err != nil {
		return Template{}, fmt.Errorf("services.%s.%s: %w", svc.Name, initExtension, err)
	}
	tmpl.Init = init

	cli, err := compose.StringList(svc.Extensions[cliExtension])
	if err != nil {
		return Template{}, fmt.Errorf("services.%s.%s: %w", svc.Name, cliExtension, err)
	}
	tmpl.CLI = cli

	return tmpl, nil
}

// Resolve returns the template for kind.
func (r *Registry) Resolve(kind domain.NodeKind) (Template, error) {
	tmpl, ok := r.templates[kind]
	if !ok {
		return Template{}, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	return tmpl, nil
}

// Kinds returns every kind in dependency order.
func (r *Registry) Kinds() []domain.NodeKind {
	var out []domain.NodeKind
	for _, level := range r.levels {
		out = append(out, level...)
	}
	return out
}

// Levels returns kinds grouped so that each level depends only on earlier ones.
func (r *Registry) Levels() [][]domain.NodeKind {
	out := make([][]domain.NodeKind, len(r.levels))
	for i, level := range r.levels {
		out[i] = append([]domain.NodeKind(nil), level...)
	}
	return out
}

// Dependents returns the kinds that directly depend on kind.
func (r *Registry) Dependents(kind domain.NodeKind) []domain.NodeKind {
	var out []domain.NodeKind
	for _, k := range r.Kinds() {
		for _, dep := range r.templates[k].DependsOn {
			if dep == kind {
				out = append(out, k)
				break
			}
		}
	}
	return out
}
