package server

import (
	"os"
	"path/filepath"

	"github.com/spf13/afero"
)

// AferoSourceReader reads file contents through an afero.Fs, so
// production code runs against afero.NewOsFs() and tests run against
// afero.NewMemMapFs() without touching the real filesystem.
type AferoSourceReader struct {
	FS afero.Fs
}

// NewOSSourceReader returns a SourceReader backed by the real
// filesystem.
func NewOSSourceReader() AferoSourceReader {
	return AferoSourceReader{FS: afero.NewOsFs()}
}

// ReadSource reads relativePath under localRoot, returning "" if the
// file does not exist (§4.2).
func (r AferoSourceReader) ReadSource(localRoot, relativePath string) (string, error) {
	full := filepath.Join(localRoot, relativePath)
	b, err := afero.ReadFile(r.FS, full)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", err
	}
	return string(b), nil
}
