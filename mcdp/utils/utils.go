package utils

import (
	"os"
	"path/filepath"
	"strconv"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// FromEnv returns the value of the environment variable named by key, or
// otherwise when the variable is unset or empty.
func FromEnv(key, otherwise string) string {
	s := os.Getenv(key)
	if s == "" {
		return otherwise
	}
	return s
}

func GetEnvInt(varName string, defaultVal int) int {
	v := os.Getenv(varName)
	if v != "" {
		i, err := strconv.Atoi(v)
		if err == nil {
			return i
		}
	}
	return defaultVal
}

// DeleteDirectoryContents removes every file in dirToDelete. Used to drain
// the pending-deletion directory after imported notification files age out.
func DeleteDirectoryContents(dirToDelete string) (filesDeleted int, err error) {
	f, err := os.Open(filepath.Clean(dirToDelete))
	if err != nil {
		err = errors.Wrapf(err, "could not open dir: %s", dirToDelete)
		log.Error(err)
		return 0, err
	}
	files, err := f.Readdir(-1)
	if err != nil {
		err = errors.Wrapf(err, "error reading files from dir: %s", f.Name())
		log.Error(err)
		return 0, err
	}
	if err = f.Close(); err != nil {
		err = errors.Wrapf(err, "error closing dir: %s", f.Name())
		log.Error(err)
		return 0, err
	}

	for _, file := range files {
		log.Infof("deleting %s", file.Name())
		if err = os.Remove(filepath.Join(dirToDelete, file.Name())); err != nil {
			err = errors.Wrapf(err, "error deleting file: %s from dir: %s", file.Name(), dirToDelete)
			log.Error(err)
			return 0, err
		}
	}
	return len(files), nil
}
