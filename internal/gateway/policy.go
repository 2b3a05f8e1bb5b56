package gateway

import "strings"

// Namespace is a method-name prefix naming a family of privileged operations.
type Namespace string

const (
	NamespaceClient Namespace = "client_"
	NamespaceConfig Namespace = "config_"
	NamespaceRPC    Namespace = "rpc_"
	NamespaceScript Namespace = "script_"
)

// Policy is the immutable capability allow-list. A method is allowed when
// it starts with one of the namespaces.
type Policy struct {
	namespaces []Namespace
}

// NewPolicy builds a policy from the given namespaces. Empty tags are
// dropped because they would match every method.
func NewPolicy(namespaces ...Namespace) Policy {
	kept := make([]Namespace, 0, len(namespaces))
	for _, ns := range namespaces {
		if ns == "" {
			continue
		}
		kept = append(kept, ns)
	}
	return Policy{namespaces: kept}
}

// DefaultPolicy returns the namespaces compiled into the host.
func DefaultPolicy() Policy {
	return NewPolicy(NamespaceClient, NamespaceConfig, NamespaceRPC, NamespaceScript)
}

// Match returns the namespace a method belongs to.
func (p Policy) Match(method string) (Namespace, bool) {
	for _, ns := range p.namespaces {
		if strings.HasPrefix(method, string(ns)) {
			return ns, true
		}
	}
	return "", false
}

// Allows reports whether the sandbox may invoke method.
func (p Policy) Allows(method string) bool {
	_, ok := p.Match(method)
	return ok
}

// Namespaces returns a copy of the allowed namespaces.
func (p Policy) Namespaces() []Namespace {
	out := make([]Namespace, len(p.namespaces))
	copy(out, p.namespaces)
	return out
}
