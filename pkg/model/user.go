package model

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

const MaxNameLength = 32

var ErrNameEmpty = errors.New("name must not be empty")
var ErrNameTooLong = fmt.Errorf("name must not exceed %d characters", MaxNameLength)
var ErrNameInvalidChars = errors.New("name must not contain control characters or surrounding whitespace")

// ValidateName checks a display name proposed during the handshake.
// Names are UTF-8, 1-32 runes, free of control characters and without
// leading or trailing whitespace. Returns nil on success.
func ValidateName(name string) error {
	if name == "" {
		return ErrNameEmpty
	}
	if !utf8.ValidString(name) {
		return ErrNameInvalidChars
	}
	if utf8.RuneCountInString(name) > MaxNameLength {
		return ErrNameTooLong
	}
	if strings.TrimSpace(name) != name {
		return ErrNameInvalidChars
	}
	for _, r := range name {
		if unicode.IsControl(r) {
			return ErrNameInvalidChars
		}
	}
	return nil
}
