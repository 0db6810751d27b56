package store

import (
	"context"

	"gopkg.in/yaml.v3"

	"github.com/artpar/lnlab/internal/core/domain"
)

// networkExport is the YAML document written by ExportNetwork.
type networkExport struct {
	Name        string            `yaml:"name"`
	ID          string            `yaml:"id"`
	Status      string            `yaml:"status"`
	AliasPrefix string            `yaml:"alias_prefix,omitempty"`
	Images      map[string]string `yaml:"images,omitempty"`
	Quarantine  string            `yaml:"quarantine,omitempty"`
	Nodes       []nodeExport      `yaml:"nodes"`
}

type nodeExport struct {
	Name      string               `yaml:"name"`
	Kind      string               `yaml:"kind"`
	Image     string               `yaml:"image"`
	Alias     string               `yaml:"alias,omitempty"`
	State     string               `yaml:"state"`
	Desired   string               `yaml:"desired"`
	Container string               `yaml:"container_id,omitempty"`
	LastError string               `yaml:"last_error,omitempty"`
	Ports     []domain.PortBinding `yaml:"ports"`
}

// exportNetwork renders a network and its nodes as YAML. A quarantined
// network is exported with its readable nodes.
func exportNetwork(ctx context.Context, exec executor, name string) ([]byte, error) {
	row, err := getNetworkRow(ctx, exec, "ExportNetwork", name)
	if err != nil {
		return nil, err
	}
	network, err := loadNetwork(ctx, exec, row)
	if err != nil {
		return nil, err
	}

	doc := networkExport{
		Name:        network.Name,
		ID:          network.ID,
		Status:      string(network.Status()),
		AliasPrefix: network.AliasPrefix,
		Quarantine:  network.Quarantine,
		Nodes:       make([]nodeExport, 0, len(network.Nodes)),
	}
	if len(network.Images) > 0 {
		doc.Images = make(map[string]string, len(network.Images))
		for kind, image := range network.Images {
			doc.Images[string(kind)] = image
		}
	}
	for _, n := range network.Nodes {
		doc.Nodes = append(doc.Nodes, nodeExport{
			Name:      n.Name,
			Kind:      string(n.Kind),
			Image:     n.Image,
			Alias:     n.Alias,
			State:     string(n.State),
			Desired:   string(n.Desired),
			Container: n.ContainerID,
			LastError: n.LastError,
			Ports:     n.Ports.Bindings,
		})
	}

	out, err := yaml.Marshal(doc)
	if err != nil {
		return nil, NewStoreError("ExportNetwork", "network", name, err.Error(), ErrInvalidData)
	}
	return out, nil
}
