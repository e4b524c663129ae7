package utils

import (
	"encoding/json"
	"path/filepath"

	"github.com/spf13/afero"
	"golang.org/x/xerrors"
)

// WriteJSON marshals data with indentation and writes it to path,
// creating parent directories as needed.
func WriteJSON(appFs afero.Fs, path string, data interface{}) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := appFs.MkdirAll(dir, 0755); err != nil {
			return xerrors.Errorf("mkdir error: %w", err)
		}
	}

	f, err := appFs.Create(path)
	if err != nil {
		return xerrors.Errorf("unable to open a file: %w", err)
	}
	defer f.Close()

	b, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return xerrors.Errorf("failed to marshal JSON: %w", err)
	}

	if _, err = f.Write(b); err != nil {
		return xerrors.Errorf("failed to save a file: %w", err)
	}
	return nil
}
