package clipboard

import (
	"errors"
	"fmt"
	"strings"

	"github.com/atotto/clipboard"
)

// ErrEmpty means the clipboard holds no text.
var ErrEmpty = errors.New("clipboard is empty")

// Source reads text from a clipboard.
type Source interface {
	ReadText() (string, error)
}

// System is the OS clipboard.
type System struct{}

func (System) ReadText() (string, error) {
	if clipboard.Unsupported {
		return "", errors.New("clipboard not supported on this system")
	}
	s, err := clipboard.ReadAll()
	if err != nil {
		return "", fmt.Errorf("read clipboard: %w", err)
	}
	return s, nil
}

// Static is a fixed clipboard, used by the HTTP API when the shell posts the
// text itself.
type Static string

func (s Static) ReadText() (string, error) { return string(s), nil }

// Text reads src and rejects blank content.
func Text(src Source) (string, error) {
	s, err := src.ReadText()
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(s) == "" {
		return "", ErrEmpty
	}
	return s, nil
}
