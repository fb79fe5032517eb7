// Package paths resolves the on-disk locations the DIME resolution engine
// reads and writes: the per-user DIME state directory, its cache file, and
// its root trust anchor file.
//
// Modeled on foxcpp-maddy's config/directories.go (a small set of
// process-wide directory variables resolved once at start-up) combined with
// the original engine's _get_dime_dir_location, which defaults to ~/.dime
// and creates it on first use.
package paths

import (
	"os"
	"path/filepath"
)

// BaseDirEnv overrides the DIME state directory (default ~/.dime) when set.
const BaseDirEnv = "DIME_BASE_DIR"

// CacheFileEnv overrides the cache file path (default <base>/.cache) when set.
const CacheFileEnv = "DIME_CACHE_FILE"

const (
	defaultDirName = ".dime"
	cacheFileName  = ".cache"
	rootAnchorName = "root-anchor.key"
)

// BaseDir returns the DIME state directory, creating it (mode 0700) if it
// does not already exist. Resolution order: $DIME_BASE_DIR, else
// $HOME/.dime.
func BaseDir() (string, error) {
	if dir := os.Getenv(BaseDirEnv); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return "", err
		}
		return dir, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	dir := filepath.Join(home, defaultDirName)

	info, err := os.Stat(dir)
	if os.IsNotExist(err) {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return "", err
		}
	} else if err != nil {
		return "", err
	} else if !info.IsDir() {
		return "", &os.PathError{Op: "stat", Path: dir, Err: os.ErrExist}
	}

	return dir, nil
}

// CacheFile returns the path to the persistent object cache file.
// Resolution order: $DIME_CACHE_FILE, else <BaseDir>/.cache.
func CacheFile() (string, error) {
	if f := os.Getenv(CacheFileEnv); f != "" {
		return f, nil
	}
	base, err := BaseDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(base, cacheFileName), nil
}

// RootAnchorFile returns the path to the trust anchor key file,
// <BaseDir>/root-anchor.key.
func RootAnchorFile() (string, error) {
	base, err := BaseDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(base, rootAnchorName), nil
}
