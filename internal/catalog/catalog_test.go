package catalog

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	// Default catalog
	c, err := Load("")
	require.NoError(t, err)
	require.NotEmpty(t, c.Servers)

	test, err := c.Mode("test")
	require.NoError(t, err)
	require.Equal(t, 1, test.Capacity)
	require.Len(t, test.Maps, 1)

	_, err = c.Mode("nope")
	require.ErrorIs(t, err, ErrUnknownMode)
	require.Nil(t, c.Maps("nope"))

	dir := t.TempDir()

	// custom file
	{
		path := filepath.Join(dir, "catalog.yaml")
		err = os.WriteFile(path, []byte(`
servers:
  - 10.0.0.1:27015
modes:
  - name: bball
    capacity: 4
    maps: [ctf_ballin_sky, ctf_bball_alpine]
`), 0644)
		require.NoError(t, err)

		c, err = Load(path)
		require.NoError(t, err)
		require.Equal(t, []string{"10.0.0.1:27015"}, c.Servers)
		require.Equal(t, []string{"ctf_ballin_sky", "ctf_bball_alpine"}, c.Maps("bball"))
		require.Equal(t, []string{"bball"}, c.ModeNames())
	}

	// missing file
	_, err = Load(filepath.Join(dir, "missing.yaml"))
	require.Error(t, err)
}

func TestParse_Invalid(t *testing.T) {
	cases := []struct {
		name string
		data string
	}{
		{name: "no modes", data: `servers: [a]`},
		{name: "empty pool", data: "modes:\n  - name: x\n    capacity: 2\n"},
		{name: "zero capacity", data: "modes:\n  - name: x\n    maps: [m]\n"},
		{name: "duplicate", data: "modes:\n  - {name: x, capacity: 1, maps: [m]}\n  - {name: x, capacity: 1, maps: [m]}\n"},
		{name: "bad yaml", data: "modes: [\n"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse([]byte(tc.data))
			require.Error(t, err)
		})
	}
}
