package protocol

import "unicode/utf8"

// Limits enforced by every room, counted in characters rather than
// bytes so multibyte names and messages are not penalized. Violating
// MaxNameLength closes the connection; violating MaxMessageLength only
// drops the message.
const (
	MaxNameLength    = 32
	MaxMessageLength = 256

	// DefaultName is assumed when the naming frame omits a name.
	DefaultName = "anonymous"
)

// ValidateName checks a session name claimed by a naming frame.
func ValidateName(name string) error {
	if utf8.RuneCountInString(name) > MaxNameLength {
		return ErrNameTooLong
	}
	return nil
}

// ValidateMessageText checks a chat message body.
func ValidateMessageText(text string) error {
	if utf8.RuneCountInString(text) > MaxMessageLength {
		return ErrMessageTooLong
	}
	return nil
}
