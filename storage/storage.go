package storage

import (
	"errors"
	"fmt"
	"io"

	"github.com/upcast/upcast/config"
	"github.com/upcast/upcast/job"

	"github.com/casdoor/oss"
)

// AssetStore opens asset payloads for execution backends. The engine never
// interprets payload bytes; it only hands streams to drivers.
type AssetStore struct {
	oss.StorageInterface
}

// New builds the asset store for the configured provider.
func New(c *config.Storage) (*AssetStore, error) {
	switch c.Provider {
	case "", "filesystem":
		return &AssetStore{StorageInterface: NewFileSystem(c.Bucket)}, nil
	default:
		return nil, errors.New("unsupported storage type")
	}
}

// Open returns a readable stream for the asset's payload.
func (s *AssetStore) Open(asset job.Asset) (io.ReadCloser, error) {
	rc, err := s.GetStream(asset.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open asset %s: %w", asset.ID, err)
	}
	return rc, nil
}
