package pathutil

import (
	"os"
	"path/filepath"

	"github.com/mitchellh/go-homedir"
)

// HomeDir obtains the path to the user's home directory.
func HomeDir() string {
	home, err := homedir.Dir()
	if err != nil {
		log.WithError(err).Warn("Failed to locate home directory")
		return ""
	}
	return home
}

// SimDir returns the directory holding the simulator's files: ~/.skycoin/skymesh.
func SimDir() string {
	return filepath.Join(HomeDir(), ".skycoin", "skymesh")
}

// EnsureDir creates the given directory when it does not exist and returns
// its absolute path.
func EnsureDir(path string) (string, error) {
	absPath, err := homedir.Expand(path)
	if err != nil {
		return "", err
	}
	if absPath, err = filepath.Abs(absPath); err != nil {
		return "", err
	}
	if _, err := os.Stat(absPath); os.IsNotExist(err) {
		if err := os.MkdirAll(absPath, 0750); err != nil {
			return "", err
		}
	}
	return absPath, nil
}
