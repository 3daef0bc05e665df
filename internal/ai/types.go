package ai

import (
	"errors"
	"fmt"
	"strings"

	"github.com/local/aihelper/internal/imagerender"
)

// Vendor identifies an AI backend.
type Vendor string

const (
	VendorGemini   Vendor = "gemini"
	VendorOpenAI   Vendor = "openai"
	VendorClaude   Vendor = "claude"
	VendorDeepSeek Vendor = "deepseek"
)

// ParseVendor accepts the provider names used in config.json.
func ParseVendor(s string) (Vendor, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "gemini", "google", "google_gemini":
		return VendorGemini, nil
	case "openai", "chatgpt":
		return VendorOpenAI, nil
	case "claude", "anthropic":
		return VendorClaude, nil
	case "deepseek":
		return VendorDeepSeek, nil
	}
	return "", fmt.Errorf("unknown provider %q", s)
}

// KeyName is the api_keys entry (and keyring item) holding the vendor's key.
func (v Vendor) KeyName() string {
	switch v {
	case VendorGemini:
		return "google_gemini"
	case VendorClaude:
		return "anthropic"
	default:
		return string(v)
	}
}

// TaskKind determines how a Task payload is interpreted.
type TaskKind string

const (
	KindText          TaskKind = "text"
	KindImage         TaskKind = "image"
	KindImageFromPath TaskKind = "image_from_path"
	KindPDFMultimodal TaskKind = "pdf_multimodal"
)

// Payload is one of TextPayload, ImagePathPayload or PDFPayload.
type Payload interface{ payload() }

type TextPayload struct{ Text string }

type ImagePathPayload struct{ Path string }

// PDFPayload carries the concatenated page text and the page images in page order.
type PDFPayload struct {
	Text   string
	Images []Image
}

func (TextPayload) payload()      {}
func (ImagePathPayload) payload() {}
func (PDFPayload) payload()       {}

// Task is one unit of capture-and-ask work.
type Task struct {
	Prompt  string
	Kind    TaskKind
	Payload Payload

	// Set by Prepare: the parts UserParts built for this prompt and options.
	encoded     []Part
	encodedFor  string
	encodedWith imagerender.Options
}

func NewTextTask(prompt, text string) Task {
	return Task{Prompt: prompt, Kind: KindText, Payload: TextPayload{Text: text}}
}

// NewImageTask is used for screenshots; dropped images use NewImageFromPathTask.
func NewImageTask(prompt, path string) Task {
	return Task{Prompt: prompt, Kind: KindImage, Payload: ImagePathPayload{Path: path}}
}

func NewImageFromPathTask(prompt, path string) Task {
	return Task{Prompt: prompt, Kind: KindImageFromPath, Payload: ImagePathPayload{Path: path}}
}

func NewPDFTask(prompt, text string, images []Image) Task {
	return Task{Prompt: prompt, Kind: KindPDFMultimodal, Payload: PDFPayload{Text: text, Images: images}}
}

// ErrKindMismatch means a Task was built by hand with a payload that does not
// belong to its kind.
var ErrKindMismatch = errors.New("task payload does not match task kind")

// Validate checks the kind/payload pairing.
func (t Task) Validate() error {
	ok := false
	switch t.Kind {
	case KindText:
		_, ok = t.Payload.(TextPayload)
	case KindImage, KindImageFromPath:
		_, ok = t.Payload.(ImagePathPayload)
	case KindPDFMultimodal:
		_, ok = t.Payload.(PDFPayload)
	default:
		return fmt.Errorf("unknown task kind %q: %w", t.Kind, ErrKindMismatch)
	}
	if !ok {
		return fmt.Errorf("%s task with %T: %w", t.Kind, t.Payload, ErrKindMismatch)
	}
	return nil
}

// Image is an encoded image. Data is whatever the producer emitted until
// Normalize runs; afterwards it is always opaque JPEG.
type Image struct {
	Data []byte
	MIME string
}

// Role of a conversation turn.
type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

// Part is either text or an image; exactly one of the fields is set.
type Part struct {
	Text  string
	Image *Image
}

func TextPart(s string) Part { return Part{Text: s} }
func ImagePart(img Image) Part { return Part{Image: &img} }
func (p Part) IsImage() bool { return p.Image != nil }

// Turn is one entry of a conversation history.
type Turn struct {
	Role  Role
	Parts []Part
}

// Text joins the text parts of the turn.
func (t Turn) Text() string {
	var b strings.Builder
	for _, p := range t.Parts {
		if p.IsImage() || p.Text == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(p.Text)
	}
	return b.String()
}

// Images returns the image parts of the turn in order.
func (t Turn) Images() []Image {
	var out []Image
	for _, p := range t.Parts {
		if p.IsImage() {
			out = append(out, *p.Image)
		}
	}
	return out
}

// UserParts builds the user-side parts for prompt + task: the prompt first,
// then the payload text, then every image in order. Images are normalized to
// opaque JPEG here, so nothing with an alpha channel leaves this package.
func UserParts(prompt string, task Task, opts imagerender.Options) ([]Part, error) {
	if err := task.Validate(); err != nil {
		return nil, &CallError{Kind: CallPayload, Err: err}
	}
	if task.encoded != nil && task.encodedFor == prompt && task.encodedWith == opts {
		return append([]Part(nil), task.encoded...), nil
	}
	parts := []Part{TextPart(prompt)}

	switch p := task.Payload.(type) {
	case TextPayload:
		if p.Text != "" {
			parts = append(parts, TextPart(p.Text))
		}
	case ImagePathPayload:
		data, err := imagerender.LoadFile(p.Path, opts)
		if err != nil {
			return nil, &CallError{Kind: CallPayload, Err: fmt.Errorf("cannot load image %s: %w", p.Path, err)}
		}
		parts = append(parts, ImagePart(Image{Data: data, MIME: imagerender.MIMEJPEG}))
	case PDFPayload:
		if p.Text != "" {
			parts = append(parts, TextPart(p.Text))
		}
		for i, img := range p.Images {
			data, err := imagerender.Normalize(img.Data, opts)
			if err != nil {
				return nil, &CallError{Kind: CallPayload, Err: fmt.Errorf("cannot encode page image %d: %w", i+1, err)}
			}
			parts = append(parts, ImagePart(Image{Data: data, MIME: imagerender.MIMEJPEG}))
		}
	}
	return parts, nil
}

// Prepare runs UserParts once and returns a copy of task that carries the
// result, so a provider given the same prompt and options reuses the encoded
// images instead of decoding them again.
func Prepare(prompt string, task Task, opts imagerender.Options) (Task, []Part, error) {
	parts, err := UserParts(prompt, task, opts)
	if err != nil {
		return task, nil, err
	}
	task.encoded, task.encodedFor, task.encodedWith = parts, prompt, opts
	return task, append([]Part(nil), parts...), nil
}
