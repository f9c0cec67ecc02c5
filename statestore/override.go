package statestore

import "os"

// OverrideMarker is the operator-placed "promote this node no matter what"
// flag. Presence is the whole protocol; consuming it removes it so the
// bypass is single-use.
type OverrideMarker struct {
	Path string
}

func (m OverrideMarker) Place() error {
	f, err := os.OpenFile(m.Path, os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return err
	}
	return f.Close()
}

// Consume reports whether the marker was present and deletes it if so.
func (m OverrideMarker) Consume() (bool, error) {
	if _, err := os.Stat(m.Path); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}

	if err := os.Remove(m.Path); err != nil {
		return false, err
	}

	return true, nil
}
