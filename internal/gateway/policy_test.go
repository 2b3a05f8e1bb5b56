package gateway

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefaultPolicy(t *testing.T) {
	p := DefaultPolicy()

	tests := []struct {
		method string
		want   bool
		ns     Namespace
	}{
		{"client_listSessions", true, NamespaceClient},
		{"config_get", true, NamespaceConfig},
		{"rpc_ping", true, NamespaceRPC},
		{"script_list", true, NamespaceScript},
		{"admin_exec", false, ""},
		{"", false, ""},
		{"Client_listSessions", false, ""},
		{"clientlistSessions", false, ""},
		{"xclient_listSessions", false, ""},
		{"rpc", false, ""},
	}

	for _, tt := range tests {
		t.Run(tt.method, func(t *testing.T) {
			assert.Equal(t, tt.want, p.Allows(tt.method))
			ns, ok := p.Match(tt.method)
			assert.Equal(t, tt.want, ok)
			assert.Equal(t, tt.ns, ns)
		})
	}
}

func TestNewPolicyDropsEmptyNamespace(t *testing.T) {
	p := NewPolicy("", NamespaceRPC)

	assert.Equal(t, []Namespace{NamespaceRPC}, p.Namespaces())
	assert.False(t, p.Allows("admin_exec"))
}

func TestZeroPolicyAllowsNothing(t *testing.T) {
	var p Policy
	assert.False(t, p.Allows("client_listSessions"))
	assert.Empty(t, p.Namespaces())
}

func TestPolicyNamespacesIsCopy(t *testing.T) {
	p := DefaultPolicy()

	ns := p.Namespaces()
	ns[0] = "admin_"

	assert.False(t, p.Allows("admin_exec"))
	assert.True(t, p.Allows("client_listSessions"))
}
