package server

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// InstanceID returns the UUID for this prx instance, generating and
// persisting one on first use. The file lives next to the config
// rather than in a platform data directory, since prx instances are
// typically one-per-container with no shared state directory.
func InstanceID(configPath string) (uuid.UUID, error) {
	idPath := filepath.Join(filepath.Dir(configPath), ".prx-instance-id")

	data, err := os.ReadFile(idPath)
	if errors.Is(err, fs.ErrNotExist) {
		id, err := uuid.NewRandom()
		if err != nil {
			return id, err
		}
		if err := os.WriteFile(idPath, []byte(id.String()), 0o600); err != nil {
			return id, err
		}
		return id, nil
	}
	if err != nil {
		return uuid.UUID{}, err
	}
	return uuid.ParseBytes(data)
}
