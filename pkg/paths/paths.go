package paths

import (
	"os"
	"path/filepath"
)

// GetHomeDir returns the user's home directory, or an empty string when it
// cannot be determined.
func GetHomeDir() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return homeDir
}

// GetConfigDir returns the user's config directory for paperwave.
//
// If the home directory cannot be determined, it falls back to a directory
// under the system temporary directory. This is a best-effort fallback and
// not intended to be a security boundary.
func GetConfigDir() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return filepath.Clean(filepath.Join(os.TempDir(), ".paperwave-config"))
	}
	return filepath.Clean(filepath.Join(homeDir, ".config", "paperwave"))
}

// GetDataDir returns the user's data directory for paperwave. The document
// library, generated audio, and debug logs all default to subdirectories of
// this location.
func GetDataDir() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return filepath.Clean(filepath.Join(os.TempDir(), ".paperwave"))
	}
	return filepath.Clean(filepath.Join(homeDir, ".paperwave"))
}

// GetLibraryDir returns the default document library directory.
func GetLibraryDir() string {
	return filepath.Join(GetDataDir(), "document_library")
}

// GetAudioDir returns the default directory for synthesized clips and
// merged artifacts.
func GetAudioDir() string {
	return filepath.Join(GetDataDir(), "audio")
}
