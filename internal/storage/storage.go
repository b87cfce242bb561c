package storage

import (
	"io"
	"mime/multipart"
)

type FileInfo struct {
	Filename    string
	ContentType string
	Size        int64
}

// Storage is the source-bytes collaborator: the pipeline only needs to
// resolve a stored video to a local path and stream it back out.
type Storage interface {
	SaveFile(file multipart.File, info FileInfo) (string, error)
	OpenFile(path string) (io.ReadSeekCloser, error)
	GetFilePath(path string) (string, error)
	DeleteFile(path string) error
}
