package inventory

import (
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"
)

type yamlGroup struct {
	Hosts yaml.Node         `yaml:"hosts"`
	Vars  map[string]string `yaml:"vars,omitempty"`
}

type yamlInventory struct {
	Proxy   yamlGroup `yaml:"proxy"`
	Private yamlGroup `yaml:"private"`
}

// EncodeYAML renders the inventory in Ansible's YAML inventory format.
// Host order is preserved.
func (inv *Inventory) EncodeYAML() ([]byte, error) {
	if err := inv.Validate(); err != nil {
		return nil, err
	}
	doc := yamlInventory{
		Proxy:   yamlGroup{Hosts: hostsNode(inv.Proxy.Hosts), Vars: inv.Proxy.Vars},
		Private: yamlGroup{Hosts: hostsNode(inv.Private.Hosts), Vars: inv.Private.Vars},
	}
	return yaml.Marshal(&doc)
}

// ParseYAML is the inverse of EncodeYAML.
func ParseYAML(data []byte) (*Inventory, error) {
	var doc map[string]yamlGroup
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, malformed(0, "yaml: %v", err)
	}
	inv := &Inventory{}
	for _, name := range []string{ProxyGroup, PrivateGroup} {
		yg, ok := doc[name]
		if !ok {
			return nil, malformed(0, "missing %s group", name)
		}
		g := Group{Name: name, Vars: map[string]string{}}
		for k, v := range yg.Vars {
			g.Vars[k] = v
		}
		nullHosts := yg.Hosts.Kind == yaml.ScalarNode && yg.Hosts.Tag == "!!null"
		if yg.Hosts.Kind != 0 && yg.Hosts.Kind != yaml.MappingNode && !nullHosts {
			return nil, malformed(yg.Hosts.Line, "%s hosts must be a mapping", name)
		}
		for i := 0; i+1 < len(yg.Hosts.Content); i += 2 {
			h := NormalizeHost(yg.Hosts.Content[i].Value)
			if h == "" {
				return nil, malformed(yg.Hosts.Content[i].Line, "empty host in %s", name)
			}
			g.Hosts = append(g.Hosts, h)
		}
		if name == ProxyGroup {
			inv.Proxy = g
		} else {
			inv.Private = g
		}
	}
	if err := inv.Validate(); err != nil {
		return nil, err
	}
	return inv, nil
}

func hostsNode(hosts []string) yaml.Node {
	n := yaml.Node{Kind: yaml.MappingNode}
	for _, h := range hosts {
		n.Content = append(n.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: h},
			&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!null"},
		)
	}
	return n
}

type dynamicGroup struct {
	Hosts []string          `json:"hosts"`
	Vars  map[string]string `json:"vars"`
}

type dynamicMeta struct {
	HostVars map[string]map[string]string `json:"hostvars"`
}

// MarshalDynamic renders the inventory as the JSON document an Ansible
// dynamic inventory script prints for --list.
func (inv *Inventory) MarshalDynamic() ([]byte, error) {
	if err := inv.Validate(); err != nil {
		return nil, err
	}
	doc := map[string]any{
		ProxyGroup:   dynamicGroup{Hosts: inv.Proxy.Hosts, Vars: inv.Proxy.Vars},
		PrivateGroup: dynamicGroup{Hosts: inv.Private.Hosts, Vars: inv.Private.Vars},
		"_meta":      dynamicMeta{HostVars: map[string]map[string]string{}},
	}
	out, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encode dynamic inventory: %w", err)
	}
	return out, nil
}
