package dispatcher

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/local/aihelper/internal/ai"
	"github.com/local/aihelper/internal/capture"
	"github.com/local/aihelper/internal/clipboard"
	"github.com/local/aihelper/internal/extractor"
	"github.com/local/aihelper/internal/session"
)

// BusyNotice is shown when a trigger arrives while a task is running.
const BusyNotice = "Please wait for the previous task to finish."

var (
	// ErrBusy rejects a top-level trigger while another one is in flight.
	ErrBusy = errors.New("another task is in progress")
	// ErrEmptyInput means there was nothing to send; no task was created.
	ErrEmptyInput = errors.New("nothing to send")
)

// Message renders any outcome error for the user.
func Message(err error) string {
	if err == nil {
		return ""
	}
	var ue *extractor.UnsupportedError
	var ee *extractor.ExtractionError
	switch {
	case errors.Is(err, ErrBusy):
		return BusyNotice
	case errors.Is(err, capture.ErrCancelled):
		return "Screenshot cancelled."
	case errors.Is(err, clipboard.ErrEmpty):
		return "The clipboard is empty."
	case errors.Is(err, ErrEmptyInput), errors.Is(err, session.ErrEmptyQuestion):
		return "Type a message first."
	case errors.Is(err, session.ErrFollowUpInFlight):
		return "Wait for the current answer before asking again."
	case errors.Is(err, session.ErrClosed):
		return "This conversation has been closed."
	case errors.As(err, &ue):
		return fmt.Sprintf("Files of type %s are not supported.", filepath.Ext(ue.Path))
	case errors.As(err, &ee):
		return fmt.Sprintf("Could not read %s: %s.\n\nThe file may be damaged or password protected.",
			filepath.Base(ee.Path), ee.Reason)
	}
	return ai.UserMessage(err)
}

// outcomeLabel is the metrics label for a delivered outcome.
func outcomeLabel(err error) string {
	var ue *extractor.UnsupportedError
	var ee *extractor.ExtractionError
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, capture.ErrCancelled):
		return "cancelled"
	case errors.As(err, &ue):
		return "unsupported"
	case errors.As(err, &ee):
		return "extraction"
	}
	return ai.KindOf(err).String()
}
