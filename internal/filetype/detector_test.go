package filetype

import (
	"archive/zip"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name string, data []byte) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, data, 0o644))
	return p
}

func writeZip(t *testing.T, name string, files map[string]string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	f, err := os.Create(p)
	require.NoError(t, err)
	zw := zip.NewWriter(f)
	for n, body := range files {
		w, err := zw.Create(n)
		require.NoError(t, err)
		_, err = w.Write([]byte(body))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())
	return p
}

func TestDetect(t *testing.T) {
	pngPath := filepath.Join(t.TempDir(), "shot.png")
	f, err := os.Create(pngPath)
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, image.NewRGBA(image.Rect(0, 0, 2, 2))))
	require.NoError(t, f.Close())

	cases := []struct {
		name string
		path string
		want Kind
	}{
		{"png", pngPath, KindImage},
		{"pdf", writeFile(t, "a.pdf", []byte("%PDF-1.4\n%\xe2\xe3\xcf\xd3\n")), KindPDF},
		{"plain text", writeFile(t, "notes.txt", []byte("hello world\n")), KindText},
		{"go source", writeFile(t, "main.go", []byte("package main\n\nfunc main() {}\n")), KindText},
		{"json", writeFile(t, "data.json", []byte(`{"a": 1}`)), KindText},
		{"docx", writeZip(t, "report.docx", map[string]string{"word/document.xml": "<w:document/>"}), KindWord},
		{"pptx", writeZip(t, "deck.pptx", map[string]string{"ppt/slides/slide1.xml": "<p:sld/>"}), KindPresentation},
		{"plain zip", writeZip(t, "bundle.zip", map[string]string{"a.txt": "x"}), KindUnsupported},
		{"binary", writeFile(t, "blob.bin", []byte{0x00, 0x01, 0x02, 0xff, 0xfe, 0x00, 0x10}), KindUnsupported},
	}

	d := New()
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			info, err := d.Detect(tc.path)
			require.NoError(t, err)
			assert.Equal(t, tc.want, info.Kind, "mime %s", info.MIMEType)
			assert.Equal(t, tc.want != KindUnsupported, info.Supported())
		})
	}
}

func TestDetectMissingFile(t *testing.T) {
	_, err := New().Detect(filepath.Join(t.TempDir(), "nope"))
	assert.Error(t, err)
}
