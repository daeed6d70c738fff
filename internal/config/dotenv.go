package config

import (
	"errors"
	"io/fs"

	"github.com/joho/godotenv"
)

// LoadDotenv sets the variables of a .env file that are not already defined.
// A missing file is not an error.
func LoadDotenv(path string) error {
	return ignoreMissing(godotenv.Load(path))
}

// ReloadDotenv re-reads a .env file, overriding variables already set so that
// edited values take effect on config reload.
func ReloadDotenv(path string) error {
	return ignoreMissing(godotenv.Overload(path))
}

func ignoreMissing(err error) error {
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}
