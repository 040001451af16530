package zip

import (
	"archive/zip"
	"bytes"
	"io"
	"testing"
)

func TestBundle(t *testing.T) {
	data, err := Bundle([]File{
		{Name: "input.jpg", Data: []byte("jpeg bytes")},
		{Name: "video.mp4", Data: []byte("mp4 bytes")},
	})
	if err != nil {
		t.Fatalf("Bundle returned error: %v", err)
	}

	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatalf("reading bundle: %v", err)
	}
	if len(zr.File) != 2 {
		t.Fatalf("bundle holds %d entries, want 2", len(zr.File))
	}

	want := map[string]string{
		"input.jpg": "jpeg bytes",
		"video.mp4": "mp4 bytes",
	}
	for _, f := range zr.File {
		rc, err := f.Open()
		if err != nil {
			t.Fatalf("opening %s: %v", f.Name, err)
		}
		content, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			t.Fatalf("reading %s: %v", f.Name, err)
		}
		if string(content) != want[f.Name] {
			t.Errorf("%s = %q, want %q", f.Name, content, want[f.Name])
		}
	}
}

func TestBundleEmpty(t *testing.T) {
	data, err := Bundle(nil)
	if err != nil {
		t.Fatalf("Bundle returned error: %v", err)
	}
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatalf("reading bundle: %v", err)
	}
	if len(zr.File) != 0 {
		t.Errorf("empty bundle holds %d entries", len(zr.File))
	}
}
