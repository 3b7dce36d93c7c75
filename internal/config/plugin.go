// Package config is an Endure plugin exposing a YAML configuration file by key.
// ${VAR} references are expanded from the environment before parsing.
package config

import (
	"os"
	"strings"

	"github.com/roadrunner-server/errors"
	"gopkg.in/yaml.v3"
)

const PluginName string = "config"

type Plugin struct {
	// Path to the configuration file.
	Path string
	// Overrides are raw "dotted.key=value" pairs applied over the file (CLI -o flags).
	Overrides []string

	root *yaml.Node
}

func (p *Plugin) Init() error {
	const op = errors.Op("config_plugin_init")

	data, err := os.ReadFile(p.Path)
	if err != nil {
		return errors.E(op, err)
	}

	root, err := parse(data)
	if err != nil {
		return errors.E(op, err)
	}

	for _, o := range p.Overrides {
		key, val, ok := strings.Cut(o, "=")
		if !ok {
			return errors.E(op, errors.Errorf("invalid override, key=value expected: %s", o))
		}
		set(root, strings.Split(key, "."), val)
	}

	p.root = root
	return nil
}

func (p *Plugin) Name() string {
	return PluginName
}

// UnmarshalKey decodes the section under a dotted key into out.
// A missing section leaves out untouched.
func (p *Plugin) UnmarshalKey(name string, out any) error {
	const op = errors.Op("config_unmarshal_key")

	node := lookup(p.root, name)
	if node == nil {
		return nil
	}

	if err := node.Decode(out); err != nil {
		return errors.E(op, errors.Errorf("key %s: %v", name, err))
	}

	return nil
}

// Has checks if config section exists.
func (p *Plugin) Has(name string) bool {
	return lookup(p.root, name) != nil
}

func parse(data []byte) (*yaml.Node, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &doc); err != nil {
		return nil, err
	}

	if len(doc.Content) == 0 {
		return &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}, nil
	}

	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, errors.Str("configuration root should be a mapping")
	}

	return root, nil
}

func lookup(node *yaml.Node, key string) *yaml.Node {
	if node == nil {
		return nil
	}

	for _, part := range strings.Split(key, ".") {
		node = child(node, part)
		if node == nil {
			return nil
		}
	}

	return node
}

func child(node *yaml.Node, key string) *yaml.Node {
	if node.Kind != yaml.MappingNode {
		return nil
	}

	for i := 0; i+1 < len(node.Content); i += 2 {
		if node.Content[i].Value == key {
			return node.Content[i+1]
		}
	}

	return nil
}

func set(node *yaml.Node, path []string, val string) {
	for i, part := range path {
		next := child(node, part)
		last := i == len(path)-1

		if next == nil || (!last && next.Kind != yaml.MappingNode) {
			next = &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
			if last {
				next = &yaml.Node{Kind: yaml.ScalarNode}
			}
			replace(node, part, next)
		}

		if last {
			*next = yaml.Node{Kind: yaml.ScalarNode, Value: val}
			return
		}

		node = next
	}
}

func replace(node *yaml.Node, key string, val *yaml.Node) {
	for i := 0; i+1 < len(node.Content); i += 2 {
		if node.Content[i].Value == key {
			node.Content[i+1] = val
			return
		}
	}

	node.Content = append(node.Content, &yaml.Node{Kind: yaml.ScalarNode, Value: key}, val)
}
