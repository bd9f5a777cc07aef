package inventory

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Parse reads the sectioned text inventory:
//
//	[proxy]
//	10.0.0.1
//
//	[proxy:vars]
//	ansible_user=deploy
//
//	[private]
//	10.0.1.1
//	10.0.1.2
//
//	[private:vars]
//	ansible_user=deploy
//
// Sections other than the four above are ignored.
func Parse(r io.Reader) (*Inventory, error) {
	inv := &Inventory{
		Proxy:   Group{Name: ProxyGroup, Vars: map[string]string{}},
		Private: Group{Name: PrivateGroup, Vars: map[string]string{}},
	}
	var seenProxy, seenPrivate bool

	var group *Group
	vars := false

	sc := bufio.NewScanner(r)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, ";") {
			continue
		}

		if strings.HasPrefix(line, "[") {
			if !strings.HasSuffix(line, "]") {
				return nil, malformed(lineNo, "unterminated section header %q", line)
			}
			name, suffix, _ := strings.Cut(strings.TrimSpace(line[1:len(line)-1]), ":")
			group, vars = nil, suffix == "vars"
			if suffix != "" && suffix != "vars" {
				continue
			}
			switch name {
			case ProxyGroup:
				group = &inv.Proxy
				seenProxy = seenProxy || !vars
			case PrivateGroup:
				group = &inv.Private
				seenPrivate = seenPrivate || !vars
			}
			continue
		}

		if group == nil {
			continue
		}

		if vars {
			k, v, ok := strings.Cut(line, "=")
			k = strings.TrimSpace(k)
			if !ok || k == "" {
				return nil, malformed(lineNo, "expected key=value in [%s:vars], got %q", group.Name, line)
			}
			group.Vars[k] = strings.TrimSpace(v)
			continue
		}

		host := NormalizeHost(line)
		if host == "" {
			return nil, malformed(lineNo, "empty host in [%s]", group.Name)
		}
		if strings.ContainsAny(host, " \t") {
			return nil, malformed(lineNo, "unexpected host variables in [%s]: %q", group.Name, line)
		}
		group.Hosts = append(group.Hosts, host)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read inventory: %w", err)
	}

	if !seenProxy {
		return nil, malformed(0, "missing [%s] section", ProxyGroup)
	}
	if !seenPrivate {
		return nil, malformed(0, "missing [%s] section", PrivateGroup)
	}
	if err := inv.Validate(); err != nil {
		return nil, err
	}
	return inv, nil
}

// ReadFile parses the inventory at path.
func ReadFile(path string) (*Inventory, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open inventory: %w", err)
	}
	defer f.Close()
	return Parse(f)
}

// WriteTo renders the inventory in the shape Parse reads. Variables are
// written in key order.
func (inv *Inventory) WriteTo(w io.Writer) (int64, error) {
	var buf bytes.Buffer
	for i, g := range []Group{inv.Proxy, inv.Private} {
		if i > 0 {
			buf.WriteString("\n")
		}
		fmt.Fprintf(&buf, "[%s]\n", g.Name)
		for _, h := range g.Hosts {
			buf.WriteString(h + "\n")
		}
		fmt.Fprintf(&buf, "\n[%s:vars]\n", g.Name)
		for _, k := range sortedKeys(g.Vars) {
			fmt.Fprintf(&buf, "%s=%s\n", k, g.Vars[k])
		}
	}
	return buf.WriteTo(w)
}

// WriteFile atomically replaces path with the rendered inventory.
func WriteFile(path string, inv *Inventory) error {
	if err := inv.Validate(); err != nil {
		return err
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create inventory dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".inventory-*")
	if err != nil {
		return fmt.Errorf("create temp inventory: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := inv.WriteTo(tmp); err != nil {
		tmp.Close()
		return fmt.Errorf("write inventory: %w", err)
	}
	if err := tmp.Chmod(0o644); err != nil {
		tmp.Close()
		return fmt.Errorf("chmod inventory: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close inventory: %w", err)
	}
	return os.Rename(tmp.Name(), path)
}
