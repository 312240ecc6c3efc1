package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const propsYAML = `
materials:
  - name: Wood
    color: [0.5, 0.3, 0.1, 1]
    roughness: 0.7
meshes:
  - name: ChairMesh
    vertices: [0, 0, 0, 1, 0, 0]
    materials: [Wood]
objects:
  - name: Chair
    mesh: ChairMesh
    location: [1, 0, 0]
    modifiers:
      - name: Bevel
        type: BEVEL
        levels: 2
        width: 0.1
  - name: Lamp
    parent: Chair
    display_type: WIRE
collections:
  - name: Props
    objects: [Chair, Lamp]
`

type workspace struct {
	dir   string
	props string
	base  []string
}

func newWorkspace(t *testing.T) *workspace {
	t.Helper()
	dir := t.TempDir()
	chdir(t, dir)
	props := filepath.Join(dir, "props.yaml")
	require.NoError(t, os.WriteFile(props, []byte(propsYAML), 0o644))
	return &workspace{
		dir:   dir,
		props: props,
		base:  []string{"--log-level", "disabled", "--store", filepath.Join(dir, "store"), "--lib", props},
	}
}

// run executes one command line in a fresh process state, as a shell
// would.
func (w *workspace) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(append(append([]string{}, w.base...), args...))
	err := cmd.Execute()
	return out.String(), err
}

func (w *workspace) mustRun(t *testing.T, args ...string) string {
	t.Helper()
	out, err := w.run(t, args...)
	require.NoError(t, err, "%s: %s", strings.Join(args, " "), out)
	return out
}

func TestCreateSetGet(t *testing.T) {
	w := newWorkspace(t)

	out := w.mustRun(t, "create", "Object", "Chair")
	assert.Contains(t, out, "Object Chair overrides props.yaml:Chair")

	out = w.mustRun(t, "set", "Object", "Chair", "/location", "[4, 5, 6]")
	assert.Contains(t, out, "recorded /location")
	w.mustRun(t, "set", "Object", "Chair", `/modifiers["Bevel"]/levels`, "3")
	w.mustRun(t, "set", "Object", "Chair", "/display_type", "WIRE")

	assert.Equal(t, "[4,5,6]\n", w.mustRun(t, "get", "Object", "Chair", "/location"))
	assert.Equal(t, "3\n", w.mustRun(t, "get", "Object", "Chair", `/modifiers["Bevel"]/levels`))
	assert.Equal(t, "\"WIRE\"\n", w.mustRun(t, "get", "Object", "Chair", "/display_type"))
	assert.Equal(t, "[1,0,0]\n", w.mustRun(t, "get", "Object", "Chair", "/location", "--library", "props.yaml"))

	out = w.mustRun(t, "show")
	assert.Contains(t, out, "Libraries (1)")
	assert.Contains(t, out, "Overrides (1)")
	assert.Contains(t, out, "/location")
	assert.Contains(t, out, `/modifiers["Bevel"]/levels`)

	out = w.mustRun(t, "export", "--format", "yaml")
	assert.Contains(t, out, "/display_type")
	out = w.mustRun(t, "export")
	assert.Contains(t, out, `"/location"`)
	_, err := w.run(t, "export", "--format", "xml")
	assert.Error(t, err)
}

func TestSetErrors(t *testing.T) {
	w := newWorkspace(t)
	w.mustRun(t, "create", "Object", "Chair")

	tests := []struct {
		name string
		args []string
	}{
		{"out of range", []string{"Object", "Chair", `/modifiers["Bevel"]/levels`, "9"}},
		{"bad enum", []string{"Object", "Chair", "/display_type", "FANCY"}},
		{"bad value", []string{"Object", "Chair", "/hidden", "[1, 2]"}},
		{"unknown path", []string{"Object", "Chair", "/colour", "1"}},
		{"collection", []string{"Object", "Chair", "/modifiers", "[]"}},
		{"no local override", []string{"Object", "Lamp", "/hidden", "true"}},
		{"unknown kind", []string{"Widget", "Chair", "/hidden", "true"}},
		{"unknown target", []string{"Object", "Chair", "/parent", "Ghost"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := w.run(t, append([]string{"set"}, tt.args...)...)
			assert.Error(t, err)
		})
	}
	assert.Equal(t, "2\n", w.mustRun(t, "get", "Object", "Chair", `/modifiers["Bevel"]/levels`))
}

func TestSetPointer(t *testing.T) {
	w := newWorkspace(t)
	w.mustRun(t, "create", "Collection", "Props")

	assert.Equal(t, "\"Chair\"\n", w.mustRun(t, "get", "Object", "Lamp", "/parent"))
	w.mustRun(t, "set", "Object", "Lamp", "/parent", "none")
	assert.Equal(t, "\"none\"\n", w.mustRun(t, "get", "Object", "Lamp", "/parent"))
	w.mustRun(t, "set", "Object", "Lamp", "/parent", "props.yaml:Chair")
	assert.Equal(t, "\"props.yaml:Chair\"\n", w.mustRun(t, "get", "Object", "Lamp", "/parent"))
}

func TestResetAndDelete(t *testing.T) {
	w := newWorkspace(t)
	w.mustRun(t, "create", "Object", "Chair")
	w.mustRun(t, "set", "Object", "Chair", "/location", "[4, 5, 6]")

	w.mustRun(t, "reset", "Object", "Chair")
	assert.Equal(t, "[1,0,0]\n", w.mustRun(t, "get", "Object", "Chair", "/location"))
	assert.NotContains(t, w.mustRun(t, "show"), "/location")

	w.mustRun(t, "delete", "Object", "Chair")
	assert.Contains(t, w.mustRun(t, "show"), "Overrides (0)")
	_, err := w.run(t, "delete", "Object", "Chair")
	assert.Error(t, err)
}

func TestResync(t *testing.T) {
	w := newWorkspace(t)
	w.mustRun(t, "create", "Collection", "Props")
	w.mustRun(t, "set", "Object", "Chair", "/location", "[4, 5, 6]")
	_, err := w.run(t, "resync")
	require.NoError(t, err)

	changed := strings.Replace(propsYAML, "objects: [Chair, Lamp]", "objects: [Chair, Lamp, Stool]", 1)
	changed = strings.Replace(changed, "collections:", "  - name: Stool\n    location: [3, 0, 0]\ncollections:", 1)
	require.NoError(t, os.WriteFile(w.props, []byte(changed), 0o644))

	out := w.mustRun(t, "resync", "Collection", "Props")
	assert.Contains(t, out, "resynced")

	out = w.mustRun(t, "show")
	assert.Contains(t, out, "Object Stool")
	assert.Equal(t, "[4,5,6]\n", w.mustRun(t, "get", "Object", "Chair", "/location"))

	_, err = w.run(t, "resync", "Collection")
	assert.Error(t, err)
}

func TestInMemoryStore(t *testing.T) {
	w := newWorkspace(t)
	w.base = append(w.base, "--in-memory")
	w.mustRun(t, "create", "Object", "Chair")
	assert.Contains(t, w.mustRun(t, "show"), "Overrides (0)")
}

func TestConfigFile(t *testing.T) {
	w := newWorkspace(t)
	require.NoError(t, os.WriteFile(filepath.Join(w.dir, "liboverride.yaml"), []byte(`
libraries: [props.yaml]
store:
  path: state
log:
  level: disabled
`), 0o644))
	w.base = nil

	w.mustRun(t, "create", "Object", "Lamp")
	out := w.mustRun(t, "show")
	assert.Contains(t, out, "props.yaml")
	assert.Contains(t, out, "Object Lamp")
	assert.DirExists(t, filepath.Join(w.dir, "state"))

	_, err := w.run(t, "--config", filepath.Join(w.dir, "missing.yaml"), "show")
	assert.Error(t, err)
}

func TestDiffApplyCheck(t *testing.T) {
	w := newWorkspace(t)
	w.mustRun(t, "create", "Object", "Chair")
	w.mustRun(t, "set", "Object", "Chair", "/hidden", "true")

	out := w.mustRun(t, "diff")
	assert.Contains(t, out, "/hidden")
	w.mustRun(t, "apply")
	assert.Equal(t, "true\n", w.mustRun(t, "get", "Object", "Chair", "/hidden"))
	w.mustRun(t, "check")
}

// chdir changes the working directory for the duration of the test, like
// testing.T.Chdir (Go 1.24+), and restores it on cleanup.
func chdir(t *testing.T, dir string) {
	t.Helper()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })
}
