// Package inventory reads and writes the two-group fleet inventory
// (one proxy host, one or more private hosts) handed to the
// configuration-management run.
package inventory

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Group names fixed by contract.
const (
	ProxyGroup   = "proxy"
	PrivateGroup = "private"
)

// Variable names written into generated inventories.
const (
	VarUser       = "ansible_user"
	VarCommonArgs = "ansible_ssh_common_args"
	VarProxyIP    = "PROXY_IP"
)

// ErrMalformed is matched by every *MalformedError.
var ErrMalformed = errors.New("malformed inventory")

// MalformedError describes a structural violation of the inventory contract.
type MalformedError struct {
	Line   int
	Reason string
}

func (e *MalformedError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("malformed inventory: line %d: %s", e.Line, e.Reason)
	}
	return "malformed inventory: " + e.Reason
}

func (e *MalformedError) Is(target error) bool {
	return target == ErrMalformed
}

func malformed(line int, format string, args ...any) error {
	return &MalformedError{Line: line, Reason: fmt.Sprintf(format, args...)}
}

// Group is one inventory section with its member hosts and variables.
type Group struct {
	Name  string
	Hosts []string
	Vars  map[string]string
}

// Inventory is the fleet: exactly one proxy and a non-empty ordered set
// of private hosts.
type Inventory struct {
	Proxy   Group
	Private Group
}

// NormalizeHost strips surrounding whitespace and single or double quotes.
// Provisioning output sometimes arrives wrapped as "'10.0.0.5'".
func NormalizeHost(s string) string {
	return strings.Trim(s, " \t\r\n'\"")
}

// ProxyHost returns the single proxy address.
func (inv *Inventory) ProxyHost() string {
	if len(inv.Proxy.Hosts) == 0 {
		return ""
	}
	return inv.Proxy.Hosts[0]
}

// User returns the deployment user recorded in the inventory vars,
// preferring the private group.
func (inv *Inventory) User() string {
	if u := inv.Private.Vars[VarUser]; u != "" {
		return u
	}
	return inv.Proxy.Vars[VarUser]
}

// Validate checks the structural invariants of the inventory.
func (inv *Inventory) Validate() error {
	if len(inv.Proxy.Hosts) != 1 {
		return malformed(0, "%s group must have exactly one host, got %d", ProxyGroup, len(inv.Proxy.Hosts))
	}
	if len(inv.Private.Hosts) == 0 {
		return malformed(0, "%s group is empty", PrivateGroup)
	}
	for _, g := range []Group{inv.Proxy, inv.Private} {
		seen := make(map[string]bool, len(g.Hosts))
		for _, h := range g.Hosts {
			if h == "" || h != NormalizeHost(h) || strings.ContainsAny(h, " \t") {
				return malformed(0, "%s group has invalid host %q", g.Name, h)
			}
			if seen[h] {
				return malformed(0, "%s group lists %s twice", g.Name, h)
			}
			seen[h] = true
		}
		for k, v := range g.Vars {
			if k == "" || strings.ContainsAny(k, "= \t\r\n") || strings.ContainsAny(k[:1], "#;[") {
				return malformed(0, "%s group has invalid variable name %q", g.Name, k)
			}
			// Values are written verbatim after '=' and read back trimmed.
			if v != strings.TrimSpace(v) || strings.ContainsAny(v, "\r\n") {
				return malformed(0, "%s group variable %s has untrimmed or multi-line value %q", g.Name, k, v)
			}
		}
	}
	return nil
}

// Restrict returns a copy of the inventory whose private group only
// holds the given hosts, preserving the original order.
func (inv *Inventory) Restrict(hosts []string) *Inventory {
	keep := make(map[string]bool, len(hosts))
	for _, h := range hosts {
		keep[h] = true
	}
	out := &Inventory{
		Proxy:   cloneGroup(inv.Proxy),
		Private: cloneGroup(inv.Private),
	}
	out.Private.Hosts = out.Private.Hosts[:0]
	for _, h := range inv.Private.Hosts {
		if keep[h] {
			out.Private.Hosts = append(out.Private.Hosts, h)
		}
	}
	return out
}

// FromOutputs builds the inventory implied by provisioning outputs.
// Private hosts reach the proxy through a ProxyJump common argument.
func FromOutputs(proxyAddr string, privateAddrs []string, user string) (*Inventory, error) {
	proxy := NormalizeHost(proxyAddr)
	if proxy == "" {
		return nil, malformed(0, "proxy address is empty")
	}
	if user == "" {
		return nil, malformed(0, "deployment user is empty")
	}

	inv := &Inventory{
		Proxy: Group{
			Name:  ProxyGroup,
			Hosts: []string{proxy},
			Vars:  map[string]string{VarUser: user},
		},
		Private: Group{
			Name: PrivateGroup,
			Vars: map[string]string{
				VarUser:       user,
				VarCommonArgs: fmt.Sprintf("-o ProxyJump=%s@%s", user, proxy),
				VarProxyIP:    proxy,
			},
		},
	}
	for _, addr := range privateAddrs {
		h := NormalizeHost(addr)
		if h == "" {
			return nil, malformed(0, "private address %q is empty after normalization", addr)
		}
		inv.Private.Hosts = append(inv.Private.Hosts, h)
	}
	if err := inv.Validate(); err != nil {
		return nil, err
	}
	return inv, nil
}

func cloneGroup(g Group) Group {
	out := Group{Name: g.Name, Hosts: append([]string(nil), g.Hosts...), Vars: make(map[string]string, len(g.Vars))}
	for k, v := range g.Vars {
		out.Vars[k] = v
	}
	return out
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
