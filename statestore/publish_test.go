package statestore

import (
	"encoding/json"
	"io/ioutil"
	"os"
	"path"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pgguard/pgguard/cluster"
)

func testSnapshot() *cluster.Snapshot {
	return &cluster.Snapshot{
		Primary: "pg-1",
		Nodes: []cluster.NodeRecord{
			{ID: 1, Name: "pg-1", Role: cluster.RolePrimary, Status: cluster.StatusRunning},
			{ID: 2, Name: "pg-2", Role: cluster.RoleStandby, Status: cluster.StatusRunning},
		},
	}
}

func TestPublishAndReadBack(t *testing.T) {
	p := Publisher{Path: path.Join(t.TempDir(), "cluster-state.json")}

	require.NoError(t, p.Publish(testSnapshot()))

	primary, err := p.GetPublishedPrimary()
	require.NoError(t, err)
	assert.Equal(t, "pg-1", primary)

	info, err := os.Stat(p.Path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	raw, err := ioutil.ReadFile(p.Path)
	require.NoError(t, err)

	var state publishedState
	require.NoError(t, json.Unmarshal(raw, &state))
	require.Len(t, state.Nodes, 2)
	assert.Equal(t, "standby", state.Nodes[1].Role)
	assert.Equal(t, "running", state.Nodes[1].Status)
	assert.NotZero(t, state.Updated)
}

func TestPublishIdempotent(t *testing.T) {
	p := Publisher{Path: path.Join(t.TempDir(), "cluster-state.json")}

	require.NoError(t, p.Publish(testSnapshot()))
	var first publishedState
	raw, err := ioutil.ReadFile(p.Path)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, &first))

	require.NoError(t, p.Publish(testSnapshot()))
	var second publishedState
	raw, err = ioutil.ReadFile(p.Path)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, &second))

	// Same logical snapshot: identical content modulo the timestamp.
	first.Updated, second.Updated = 0, 0
	assert.Equal(t, first, second)

	// No temp files left behind.
	entries, err := ioutil.ReadDir(path.Dir(p.Path))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestGetPublishedPrimaryMissingFile(t *testing.T) {
	p := Publisher{Path: path.Join(t.TempDir(), "cluster-state.json")}

	primary, err := p.GetPublishedPrimary()
	require.NoError(t, err)
	assert.Equal(t, "", primary)
}

func TestOverrideMarkerSingleUse(t *testing.T) {
	m := OverrideMarker{Path: path.Join(t.TempDir(), "promote-override")}

	present, err := m.Consume()
	require.NoError(t, err)
	assert.False(t, present)

	require.NoError(t, m.Place())

	present, err = m.Consume()
	require.NoError(t, err)
	assert.True(t, present)

	present, err = m.Consume()
	require.NoError(t, err)
	assert.False(t, present)
}
