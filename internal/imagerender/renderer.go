package imagerender

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"os"

	"github.com/gen2brain/go-fitz"
	"github.com/nfnt/resize"
	"github.com/rs/zerolog/log"
)

// MIMEJPEG is the only encoding images leave this package in.
const MIMEJPEG = "image/jpeg"

// Options controls the transport encoding.
type Options struct {
	// MaxDimension caps width and height; 0 keeps the original size.
	MaxDimension int
	// Quality is the JPEG quality, 1-100. 0 means 90.
	Quality int
}

func (o Options) quality() int {
	if o.Quality <= 0 || o.Quality > 100 {
		return 90
	}
	return o.Quality
}

// LoadFile decodes an image file (PNG, JPEG, GIF) and encodes it for transport.
func LoadFile(path string, opts Options) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	img, format, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	log.Debug().Str("file", path).Str("format", format).Msg("loaded image")
	return Encode(img, opts)
}

// Normalize re-encodes already encoded image bytes for transport. JPEG input
// within MaxDimension is returned as is: it has no alpha channel and another
// lossy pass would only degrade it.
func Normalize(data []byte, opts Options) ([]byte, error) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	if format == "jpeg" && (opts.MaxDimension <= 0 || (cfg.Width <= opts.MaxDimension && cfg.Height <= opts.MaxDimension)) {
		return data, nil
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	return Encode(img, opts)
}

// Encode drops any alpha channel, downsizes to opts.MaxDimension and encodes
// the result as JPEG.
func Encode(img image.Image, opts Options) ([]byte, error) {
	flat := Flatten(img)

	var out image.Image = flat
	if opts.MaxDimension > 0 {
		b := flat.Bounds()
		if b.Dx() > opts.MaxDimension || b.Dy() > opts.MaxDimension {
			out = resize.Thumbnail(uint(opts.MaxDimension), uint(opts.MaxDimension), flat, resize.Lanczos3)
			log.Debug().
				Int("width", b.Dx()).
				Int("height", b.Dy()).
				Int("max", opts.MaxDimension).
				Msg("downsized image")
		}
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, out, &jpeg.Options{Quality: opts.quality()}); err != nil {
		return nil, fmt.Errorf("failed to encode JPEG: %w", err)
	}
	return buf.Bytes(), nil
}

// Flatten returns an opaque copy of img. Color values are kept as they are in
// non-premultiplied form and alpha is discarded, not composited.
func Flatten(img image.Image) *image.RGBA {
	b := img.Bounds()
	dst := image.NewRGBA(b)

	if src, ok := img.(*image.NRGBA); ok {
		for y := b.Min.Y; y < b.Max.Y; y++ {
			si := src.PixOffset(b.Min.X, y)
			di := dst.PixOffset(b.Min.X, y)
			for x := b.Min.X; x < b.Max.X; x++ {
				dst.Pix[di+0] = src.Pix[si+0]
				dst.Pix[di+1] = src.Pix[si+1]
				dst.Pix[di+2] = src.Pix[si+2]
				dst.Pix[di+3] = 0xff
				si += 4
				di += 4
			}
		}
		return dst
	}

	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			c := color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA)
			dst.SetRGBA(x, y, color.RGBA{R: c.R, G: c.G, B: c.B, A: 0xff})
		}
	}
	return dst
}

// RenderPage renders one page of an open PDF (0-based index) as JPEG.
func RenderPage(doc *fitz.Document, index int, dpi float64, opts Options) ([]byte, error) {
	img, err := doc.ImageDPI(index, dpi)
	if err != nil {
		return nil, fmt.Errorf("failed to render page %d: %w", index+1, err)
	}
	data, err := Encode(img, opts)
	if err != nil {
		return nil, err
	}

	log.Debug().
		Int("page", index+1).
		Int("jpeg_size", len(data)).
		Float64("dpi", dpi).
		Msg("rendered page to JPEG")
	return data, nil
}

// EncodeToBase64 converts binary data to base64 string
func EncodeToBase64(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}

// DataURL builds a data: URL as expected by OpenAI-style image parts.
func DataURL(mime string, data []byte) string {
	return fmt.Sprintf("data:%s;base64,%s", mime, EncodeToBase64(data))
}
