package persist

import (
	"fmt"
)

// NewStore factory function to create storage backends
func NewStore(config StoreConfig) (Store, error) {
	switch config.Type {
	case StoreTypeFileSystem:
		basePath, ok := config.Config["base_path"].(string)
		if !ok {
			return nil, fmt.Errorf("filesystem storage requires 'base_path' in config")
		}
		return NewFileSystemStore(basePath)

	default:
		return nil, fmt.Errorf("unsupported store type: %s", config.Type)
	}
}
