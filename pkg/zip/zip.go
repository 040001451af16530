// Package zip bundles the artifacts of one request into a single in-memory
// archive.
package zip

import (
	"archive/zip"
	"bytes"
	"fmt"
)

// File is one named entry in a bundle.
type File struct {
	Name string
	Data []byte
}

// Bundle packs the files into a zip archive, preserving order.
func Bundle(files []File) ([]byte, error) {
	buf := &bytes.Buffer{}
	zw := zip.NewWriter(buf)
	for _, f := range files {
		w, err := zw.Create(f.Name)
		if err != nil {
			return nil, fmt.Errorf("zip: create %s: %w", f.Name, err)
		}
		if _, err := w.Write(f.Data); err != nil {
			return nil, fmt.Errorf("zip: write %s: %w", f.Name, err)
		}
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("zip: close: %w", err)
	}
	return buf.Bytes(), nil
}
