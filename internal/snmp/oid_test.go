package snmp_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zinolabs/zino/internal/snmp"
)

func TestOIDPrefixAndStrip(t *testing.T) {
	t.Parallel()

	root, err := snmp.ParseOID(".1.3.6.1.4.1")
	require.NoError(t, err)
	full, err := snmp.ParseOID(".1.3.6.1.4.1.9.1.516")
	require.NoError(t, err)

	assert.True(t, root.IsPrefixOf(full))
	suffix, ok := full.StripPrefix(root)
	require.True(t, ok)
	assert.Equal(t, ".9.1.516", suffix.String())
}

func TestOIDStripPrefixFailsWhenNotAPrefix(t *testing.T) {
	t.Parallel()
	a, _ := snmp.ParseOID(".1.3.6.1.2.1")
	b, _ := snmp.ParseOID(".1.3.6.1.4.1.9")
	_, ok := b.StripPrefix(a)
	assert.False(t, ok)
}
