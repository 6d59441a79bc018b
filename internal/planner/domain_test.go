package planner

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const researchDomainYAML = `
name: research
goals:
  "research a topic": research
methods:
  research:
    - subtasks: [gather, digest]
  gather:
    - subtasks: [fetch_cached]
      requires: cache_warm
    - subtasks: [fetch]
operators:
  fetch:
    capability: http
    description: fetch source material
  fetch_cached:
    capability: cache
    description: read source material from cache
  digest:
    capability: text
    description: summarize gathered material
`

func TestParseDomain(t *testing.T) {
	d, err := ParseDomain([]byte(researchDomainYAML))
	require.NoError(t, err)

	assert.Equal(t, "research", d.Name)
	root, ok := d.RootTask("research a topic")
	require.True(t, ok)
	assert.Equal(t, "research", root)

	t.Run("goal matching is case-insensitive and trimmed", func(t *testing.T) {
		_, ok := d.RootTask("  Research A Topic ")
		assert.True(t, ok)
	})

	t.Run("unknown goal", func(t *testing.T) {
		_, ok := d.RootTask("fly to the moon")
		assert.False(t, ok)
	})
}

func TestParseDomain_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"no goals", `name: x`},
		{"goal points at unknown task", `
goals:
  "g": ghost
`},
		{"method references unknown subtask", `
goals:
  "g": root
methods:
  root:
    - subtasks: [ghost]
`},
		{"method with no subtasks", `
goals:
  "g": root
methods:
  root:
    - subtasks: []
`},
		{"not yaml", `{{{`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseDomain([]byte(tt.yaml))
			assert.Error(t, err)
		})
	}
}

func TestLoadDomain(t *testing.T) {
	path := filepath.Join(t.TempDir(), "domain.yaml")
	require.NoError(t, os.WriteFile(path, []byte(researchDomainYAML), 0644))

	d, err := LoadDomain(path)
	require.NoError(t, err)
	assert.Equal(t, "research", d.Name)

	_, err = LoadDomain(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
