package extractor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog/log"

	"github.com/local/aihelper/internal/ai"
	"github.com/local/aihelper/internal/filetype"
	"github.com/local/aihelper/internal/imagerender"
)

// ExtractionError aborts the task for one dropped file.
type ExtractionError struct {
	Path   string
	Reason string
	Err    error
}

func (e *ExtractionError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("cannot read %s: %s", filepath.Base(e.Path), e.Reason)
	}
	return fmt.Sprintf("cannot read %s: %s: %v", filepath.Base(e.Path), e.Reason, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// UnsupportedError is returned for file types no task kind can carry.
type UnsupportedError struct {
	Path string
	MIME string
}

func (e *UnsupportedError) Error() string {
	return fmt.Sprintf("unsupported file type %s (%s)", filepath.Ext(e.Path), e.MIME)
}

// Content is what a dropped file contributes to a task.
type Content struct {
	Kind filetype.Kind
	// Path is set for images, which providers load themselves.
	Path   string
	Text   string
	Images []ai.Image
	Pages  int
}

type Options struct {
	// MaxPDFPages caps pages taken from a PDF; 0 means all.
	MaxPDFPages int
	DPI         float64
	Images      imagerender.Options
}

const defaultDPI = 110

// Extractor turns dropped files into task payloads.
type Extractor struct {
	opts     Options
	detector *filetype.Detector
}

func New(opts Options) *Extractor {
	if opts.DPI <= 0 {
		opts.DPI = defaultDPI
	}
	return &Extractor{opts: opts, detector: filetype.New()}
}

// Extract reads path according to its detected type.
func (e *Extractor) Extract(ctx context.Context, path string) (*Content, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	st, err := os.Stat(path)
	if err != nil {
		return nil, &ExtractionError{Path: path, Reason: "file not accessible", Err: err}
	}
	if st.IsDir() {
		return nil, &UnsupportedError{Path: path, MIME: "inode/directory"}
	}

	info, err := e.detector.Detect(path)
	if err != nil {
		return nil, &ExtractionError{Path: path, Reason: "type detection failed", Err: err}
	}
	log.Info().Str("file", path).Str("kind", string(info.Kind)).Str("mime", info.MIMEType).Msg("extracting dropped file")

	switch info.Kind {
	case filetype.KindImage:
		return &Content{Kind: info.Kind, Path: path}, nil
	case filetype.KindText:
		return e.text(path)
	case filetype.KindWord:
		text, err := docxText(path)
		if err != nil {
			return nil, &ExtractionError{Path: path, Reason: "corrupt Word document", Err: err}
		}
		return &Content{Kind: info.Kind, Text: text}, nil
	case filetype.KindPresentation:
		text, slides, err := pptxText(path)
		if err != nil {
			return nil, &ExtractionError{Path: path, Reason: "corrupt PowerPoint presentation", Err: err}
		}
		return &Content{Kind: info.Kind, Text: text, Pages: slides}, nil
	case filetype.KindPDF:
		return e.pdf(ctx, path)
	default:
		return nil, &UnsupportedError{Path: path, MIME: info.MIMEType}
	}
}

func (e *Extractor) text(path string) (*Content, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, &ExtractionError{Path: path, Reason: "read failed", Err: err}
	}
	s := string(b)
	if !utf8.ValidString(s) {
		s = strings.ToValidUTF8(s, "�")
	}
	return &Content{Kind: filetype.KindText, Text: s}, nil
}
