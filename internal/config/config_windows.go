//go:build windows

package config

import (
	"fmt"
	"os"
)

// openConfigFile opens the config file on Windows, which has no O_NOFOLLOW.
func openConfigFile(path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errConfigNotFound
		}
		return nil, fmt.Errorf("config: failed to open config file: %w", err)
	}
	return f, nil
}

// checkFileOwnership on Windows is a no-op; ownership lives in ACLs.
func checkFileOwnership(_ os.FileInfo) error {
	return nil
}
