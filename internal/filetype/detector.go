package filetype

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/rs/zerolog/log"
)

// Kind is how a dropped file is turned into a task.
type Kind string

const (
	KindImage        Kind = "image"
	KindText         Kind = "text"
	KindWord         Kind = "word"
	KindPresentation Kind = "presentation"
	KindPDF          Kind = "pdf"
	KindUnsupported  Kind = "unsupported"
)

const (
	mimeDOCX = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	mimePPTX = "application/vnd.openxmlformats-officedocument.presentationml.presentation"
)

// FileTypeInfo contains detected file type information
type FileTypeInfo struct {
	Kind        Kind
	MIMEType    string
	Extension   string
	Description string
}

func (i *FileTypeInfo) Supported() bool { return i.Kind != KindUnsupported }

// codeExtensions are read as plain text even when sniffing says otherwise
// (an empty .json is application/octet-stream, a .ts file can sniff as video).
var codeExtensions = map[string]bool{
	".txt": true, ".md": true, ".json": true, ".yaml": true, ".yml": true, ".toml": true,
	".csv": true, ".log": true, ".xml": true, ".html": true, ".css": true, ".sql": true,
	".go": true, ".py": true, ".js": true, ".ts": true, ".tsx": true, ".jsx": true,
	".java": true, ".kt": true, ".c": true, ".h": true, ".cpp": true, ".hpp": true,
	".cs": true, ".rs": true, ".rb": true, ".php": true, ".sh": true, ".ps1": true,
	".swift": true, ".lua": true, ".ini": true, ".cfg": true,
}

// Detector handles file type detection using magic bytes
type Detector struct{}

// New creates a new file type detector
func New() *Detector {
	return &Detector{}
}

// Detect detects the actual file type using magic bytes, not filename.
// ZIP containers are told apart by extension.
func (d *Detector) Detect(filePath string) (*FileTypeInfo, error) {
	mtype, err := mimetype.DetectFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to detect file type: %w", err)
	}

	mimeType := mtype.String()
	extension := mtype.Extension()
	ext := strings.ToLower(filepath.Ext(filePath))

	log.Debug().Str("mime", mimeType).Str("ext", extension).Str("file", filePath).Msg("detected file type")

	// Office formats are ZIP files with a specific structure; older mimetype
	// releases and stripped archives only report the container.
	if mimeType == "application/zip" || strings.Contains(mimeType, "application/x-zip") {
		switch ext {
		case ".docx":
			mimeType, extension = mimeDOCX, ".docx"
		case ".pptx":
			mimeType, extension = mimePPTX, ".pptx"
		default:
			log.Warn().Str("ext", ext).Msg("ZIP file with unrecognized extension")
		}
	}

	info := &FileTypeInfo{MIMEType: mimeType, Extension: extension}
	d.classify(info, ext)
	return info, nil
}

// classify maps the MIME type to a Kind.
func (d *Detector) classify(info *FileTypeInfo, ext string) {
	mimeType := info.MIMEType
	base := strings.TrimSpace(strings.SplitN(mimeType, ";", 2)[0])

	switch {
	case base == "application/pdf":
		info.Kind, info.Description = KindPDF, "PDF document"
	case base == mimeDOCX:
		info.Kind, info.Description = KindWord, "Microsoft Word document"
	case base == mimePPTX:
		info.Kind, info.Description = KindPresentation, "Microsoft PowerPoint presentation"
	case base == "image/png", base == "image/jpeg", base == "image/gif":
		info.Kind, info.Description = KindImage, "Image file"
	case strings.HasPrefix(base, "text/"),
		base == "application/json",
		base == "application/xml",
		codeExtensions[ext]:
		info.Kind, info.Description = KindText, "Text file"
	default:
		info.Kind, info.Description = KindUnsupported, fmt.Sprintf("Unsupported file type: %s", mimeType)
	}
}
