// Package file applies the directory and ownership hardening the trust
// store needs.
package file

import (
	"fmt"
	"os"
	"os/user"
	"strconv"

	"golang.org/x/sys/unix"
)

// Attributes describe the desired owner, group and mode of a path. Empty
// Owner/Group and zero Mode leave that attribute untouched.
type Attributes struct {
	Owner string
	Group string
	Mode  os.FileMode
}

// EnsureDirectory creates path (and parents) with mode if it is missing.
// It reports whether anything was created.
func EnsureDirectory(path string, mode os.FileMode) (bool, error) {
	info, err := os.Lstat(path)
	if os.IsNotExist(err) {
		if err := os.MkdirAll(path, mode); err != nil {
			return false, err
		}
		return true, nil
	} else if err != nil {
		return false, err
	}

	if !info.IsDir() {
		return false, fmt.Errorf("'%s' exists but is not a directory", path)
	}
	return false, nil
}

// SetAttributes applies owner, group and mode to path and reports whether
// anything changed.
func SetAttributes(path string, attrs Attributes) (bool, error) {
	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		return false, fmt.Errorf("stat %s: %w", path, err)
	}

	changed := false

	uid, gid := -1, -1
	if attrs.Owner != "" {
		id, err := lookupUID(attrs.Owner)
		if err != nil {
			return false, err
		}
		if uint32(id) != st.Uid {
			uid = id
		}
	}
	if attrs.Group != "" {
		id, err := lookupGID(attrs.Group)
		if err != nil {
			return false, err
		}
		if uint32(id) != st.Gid {
			gid = id
		}
	}
	if uid != -1 || gid != -1 {
		if err := unix.Chown(path, uid, gid); err != nil {
			return false, fmt.Errorf("chown %s: %w", path, err)
		}
		changed = true
	}

	if attrs.Mode != 0 && os.FileMode(st.Mode&0o777) != attrs.Mode.Perm() {
		if err := os.Chmod(path, attrs.Mode.Perm()); err != nil {
			return false, fmt.Errorf("chmod %s: %w", path, err)
		}
		changed = true
	}
	return changed, nil
}

func lookupUID(name string) (int, error) {
	if id, err := strconv.Atoi(name); err == nil {
		return id, nil
	}
	u, err := user.Lookup(name)
	if err != nil {
		return 0, fmt.Errorf("lookup user %s: %w", name, err)
	}
	return strconv.Atoi(u.Uid)
}

func lookupGID(name string) (int, error) {
	if id, err := strconv.Atoi(name); err == nil {
		return id, nil
	}
	g, err := user.LookupGroup(name)
	if err != nil {
		return 0, fmt.Errorf("lookup group %s: %w", name, err)
	}
	return strconv.Atoi(g.Gid)
}
