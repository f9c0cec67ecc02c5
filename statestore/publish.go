package statestore

import (
	"encoding/json"
	"fmt"
	"io/ioutil"
	"os"
	"path"
	"time"

	"github.com/pgguard/pgguard/cluster"
)

// Publisher writes the last significant topology observation to a file other
// processes consume (poolers, monitoring). Write-temp-then-rename keeps
// readers from ever seeing a torn write.
type Publisher struct {
	Path string
}

type publishedNode struct {
	ID     int    `json:"id"`
	Name   string `json:"name"`
	Role   string `json:"role"`
	Status string `json:"status"`
}

type publishedState struct {
	Primary string          `json:"primary"`
	Nodes   []publishedNode `json:"nodes"`
	Updated int64           `json:"updated"`
}

func (p Publisher) Publish(snap *cluster.Snapshot) error {
	state := publishedState{
		Primary: snap.Primary,
		Nodes:   make([]publishedNode, 0, len(snap.Nodes)),
		Updated: time.Now().Unix(),
	}
	for _, n := range snap.Nodes {
		state.Nodes = append(state.Nodes, publishedNode{
			ID:     n.ID,
			Name:   n.Name,
			Role:   string(n.Role),
			Status: string(n.Status),
		})
	}

	payload, err := json.Marshal(state)
	if err != nil {
		return err
	}

	tmp, err := ioutil.TempFile(path.Dir(p.Path), ".cluster-state-")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if err := tmp.Chmod(0600); err != nil {
		tmp.Close()
		return err
	}
	if _, err := tmp.Write(payload); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	if err := os.Rename(tmp.Name(), p.Path); err != nil {
		return err
	}

	return syncDir(path.Dir(p.Path))
}

// GetPublishedPrimary is a best-effort read of the last published primary.
// The atomic rename on the write side means a reader sees either the old or
// the new content, never a mix.
func (p Publisher) GetPublishedPrimary() (string, error) {
	raw, err := ioutil.ReadFile(p.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", err
	}

	var state publishedState
	if err := json.Unmarshal(raw, &state); err != nil {
		return "", fmt.Errorf("could not parse cluster state file: %v", err)
	}

	return state.Primary, nil
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()

	return d.Sync()
}
