package types

import (
	"fmt"
	"net"
	"strconv"
	"time"
)

// DefaultSSHPort is used when an Endpoint carries no explicit port.
const DefaultSSHPort = 22

// Endpoint is one SSH-reachable machine as seen by the bootstrap run.
type Endpoint struct {
	Host string `yaml:"host" json:"host"`
	User string `yaml:"user,omitempty" json:"user,omitempty"`
	Port int    `yaml:"port,omitempty" json:"port,omitempty"`
}

// Addr returns host:port, defaulting to port 22.
func (e Endpoint) Addr() string {
	port := e.Port
	if port == 0 {
		port = DefaultSSHPort
	}
	return net.JoinHostPort(e.Host, strconv.Itoa(port))
}

// String renders the endpoint the way ssh -J expects it: user@host[:port].
func (e Endpoint) String() string {
	s := e.Host
	if e.Port != 0 && e.Port != DefaultSSHPort {
		s = net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
	}
	if e.User != "" {
		s = e.User + "@" + s
	}
	return s
}

// KeyRecord is a single host public key as written to the trust store.
type KeyRecord struct {
	Host string `yaml:"host" json:"host"`
	// Type is the key algorithm, e.g. ssh-ed25519.
	Type string `yaml:"type" json:"type"`
	// Key is the wire-format public key.
	Key []byte `yaml:"-" json:"-"`
}

func (r KeyRecord) String() string {
	return fmt.Sprintf("%s %s", r.Host, r.Type)
}

// Outcome is the result of a best-effort operation. Callers receive it
// instead of an error so that ignoring a failure is always an explicit
// decision at the call site.
type Outcome struct {
	OK  bool
	Err error
	Msg string
}

// Succeeded builds a successful Outcome.
func Succeeded(msg string) Outcome {
	return Outcome{OK: true, Msg: msg}
}

// Failed builds a failed Outcome.
func Failed(err error) Outcome {
	return Outcome{OK: false, Err: err, Msg: err.Error()}
}

// Attempt records one reachability probe. It is never persisted.
type Attempt struct {
	Target Endpoint
	Via    Endpoint
	Number int
	Err    error
	At     time.Time
}

// OK reports whether the attempt reached the target.
func (a Attempt) OK() bool { return a.Err == nil }
