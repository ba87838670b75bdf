// Package storage keeps the small state files the application owns, such as
// the session settings file, in a private directory.
package storage

// Provider reads and replaces named state files. Names are relative to the
// provider root.
type Provider interface {
	// Read returns the current content of name.
	Read(name string) ([]byte, error)
	// Backup returns the content name had before its last replacement.
	Backup(name string) ([]byte, error)
	// Write atomically replaces name, keeping the previous content as its
	// backup.
	Write(name string, content []byte) error
	// Abs returns the absolute location of name, for watchers.
	Abs(name string) (string, error)
}
