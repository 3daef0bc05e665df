package ai

import "strings"

// Markers of the background section memory.Compose embeds in a prompt.
const (
	BackgroundOpen  = "<USER_BACKGROUND>"
	BackgroundClose = "</USER_BACKGROUND>"
	RequestSep      = "---"
)

// SplitBackground separates an embedded background section from the user
// request. On any malformation it returns the whole prompt as the user message,
// an empty system prompt and ok=false. It never fails.
func SplitBackground(prompt string) (system, user string, ok bool) {
	open := strings.Index(prompt, BackgroundOpen)
	if open < 0 {
		return "", prompt, false
	}
	rest := prompt[open+len(BackgroundOpen):]
	end := strings.Index(rest, BackgroundClose)
	if end < 0 {
		return "", prompt, false
	}
	system = strings.TrimSpace(rest[:end])

	after := rest[end+len(BackgroundClose):]
	sep := strings.Index(after, RequestSep)
	if sep < 0 {
		return "", prompt, false
	}
	user = strings.TrimSpace(after[sep+len(RequestSep):])
	if user == "" {
		return "", prompt, false
	}
	return system, user, true
}

// splitParts applies SplitBackground to the first text part only, so payload
// text containing a separator is never mistaken for the request boundary.
func splitParts(parts []Part) (string, []Part) {
	for i, p := range parts {
		if p.IsImage() || p.Text == "" {
			continue
		}
		system, user, ok := SplitBackground(p.Text)
		if !ok {
			return "", parts
		}
		out := append([]Part(nil), parts...)
		out[i] = TextPart(user)
		return system, out
	}
	return "", parts
}
