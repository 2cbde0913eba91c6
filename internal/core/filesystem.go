package core

// Filesystem is the narrow local file contract the engine consumes.
// It abstracts file access to enable testing without touching the real
// filesystem; thumbnail generation and richer file I/O live outside the engine.
type Filesystem interface {
	// Exists reports whether a regular file exists at path.
	Exists(path string) (bool, error)

	// ReadFile returns the file's bytes.
	ReadFile(path string) ([]byte, error)

	// WriteFile writes data to path, creating parent directories as needed.
	WriteFile(path string, data []byte) error

	// Remove deletes the file. Removing a missing path is not an error.
	Remove(path string) error
}
