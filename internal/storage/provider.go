// Package storage defines the blob store behind the local backend's
// attachments and avatars.
package storage

import "time"

// BlobInfo describes one stored blob.
type BlobInfo struct {
	Path      string
	Name      string
	Size      int64
	Checksum  string
	UpdatedAt time.Time
}

// Provider is the interface for blob operations. Paths are relative to the
// store root and use forward slashes.
type Provider interface {
	// List returns every blob directly under dir.
	List(dir string) ([]BlobInfo, error)
	// Read returns the raw bytes of the blob at path.
	Read(path string) ([]byte, error)
	// Write atomically writes content to path.
	Write(path string, content []byte) error
	// Delete removes the blob at path.
	Delete(path string) error
	// DeleteDir removes dir and everything below it. A missing dir is not an error.
	DeleteDir(dir string) error
}

// AttachmentDir is the directory holding the attachments of one kitem.
func AttachmentDir(kitemID string) string {
	return "attachments/" + kitemID
}

// AttachmentPath is the location of a named attachment.
func AttachmentPath(kitemID, name string) string {
	return AttachmentDir(kitemID) + "/" + name
}

// AvatarPath is the location of a kitem's avatar image.
func AvatarPath(kitemID string) string {
	return "avatars/" + kitemID + ".png"
}
