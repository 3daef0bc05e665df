package extractor

import (
	"context"
	"fmt"
	"strings"

	"github.com/gen2brain/go-fitz"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/rs/zerolog/log"

	"github.com/local/aihelper/internal/ai"
	"github.com/local/aihelper/internal/filetype"
	"github.com/local/aihelper/internal/imagerender"
)

// pdf concatenates page text in page order and renders every page, up to
// MaxPDFPages.
func (e *Extractor) pdf(ctx context.Context, path string) (*Content, error) {
	doc, err := fitz.New(path)
	if err != nil {
		return nil, &ExtractionError{Path: path, Reason: "corrupt PDF", Err: err}
	}
	defer doc.Close()

	total := pageCount(path, doc)
	if total == 0 {
		return nil, &ExtractionError{Path: path, Reason: "PDF has no pages"}
	}
	pages := total
	if e.opts.MaxPDFPages > 0 && pages > e.opts.MaxPDFPages {
		log.Warn().Str("file", path).Int("pages", total).Int("max", e.opts.MaxPDFPages).Msg("PDF truncated to page cap")
		pages = e.opts.MaxPDFPages
	}

	var text strings.Builder
	images := make([]ai.Image, 0, pages)
	for i := 0; i < pages; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		pageText, err := doc.Text(i)
		if err != nil {
			log.Warn().Err(err).Int("page", i+1).Msg("failed to extract text from page")
			pageText = ""
		}
		if text.Len() > 0 {
			text.WriteString("\n\n")
		}
		fmt.Fprintf(&text, "[Page %d]\n%s", i+1, strings.TrimSpace(pageText))

		img, err := imagerender.RenderPage(doc, i, e.opts.DPI, e.opts.Images)
		if err != nil {
			return nil, &ExtractionError{Path: path, Reason: fmt.Sprintf("cannot render page %d", i+1), Err: err}
		}
		images = append(images, ai.Image{Data: img, MIME: imagerender.MIMEJPEG})
	}

	log.Info().Str("file", path).Int("pages", pages).Int("chars", text.Len()).Msg("extracted PDF")
	return &Content{Kind: filetype.KindPDF, Text: text.String(), Images: images, Pages: pages}, nil
}

// pageCount prefers pdfcpu and falls back to MuPDF for files pdfcpu rejects
// but MuPDF can repair.
func pageCount(path string, doc *fitz.Document) int {
	n, err := api.PageCountFile(path)
	if err == nil && n > 0 {
		return min(n, doc.NumPage())
	}
	if err != nil {
		log.Debug().Err(err).Str("file", path).Msg("pdfcpu page count failed, using MuPDF")
	}
	return doc.NumPage()
}
