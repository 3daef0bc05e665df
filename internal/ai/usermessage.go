package ai

import (
	"errors"
	"fmt"
)

// UserMessage renders err as guidance for the person at the keyboard.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}

	var ie *InitError
	if errors.As(err, &ie) {
		return fmt.Sprintf("Could not start %s (%s): %v\n\n"+
			"Check the API key in config.json or the keyring, the model name, and your network or proxy settings.",
			ie.Vendor, ie.Model, ie.Err)
	}

	var ce *CallError
	if !errors.As(err, &ce) {
		return fmt.Sprintf("Request failed: %v", err)
	}
	switch ce.Kind {
	case CallTimeout:
		return "The request timed out.\n\n" +
			"- Check that your network connection is working.\n" +
			"- If you use a proxy, make sure it is running and the proxy setting is correct.\n" +
			"- A firewall may be blocking the connection to the AI service."
	case CallPayload:
		return fmt.Sprintf("The content could not be prepared for the AI service: %v", ce.Err)
	case CallTransport:
		return fmt.Sprintf("Could not reach %s: %v\n\n"+
			"Check your network connection and proxy settings.", ce.Vendor, ce.Err)
	default:
		msg := fmt.Sprintf("The AI service returned an error: %v\n\n"+
			"- Check your network connection and proxy settings.\n"+
			"- Make sure the API key is valid and has quota left.\n"+
			"- After changing the API key, restart the application.", ce.Err)
		if ce.Status != 0 {
			msg = fmt.Sprintf("HTTP %d. %s", ce.Status, msg)
		}
		return msg
	}
}
