package domain

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// Session ids are opaque tokens; anything outside this alphabet is rejected
// before it reaches a store filter.
var sessionIDRegex = regexp.MustCompile(`^[A-Za-z0-9_-]{1,128}$`)

// MaxDocumentBytes bounds the text accepted for one document.
const MaxDocumentBytes = 8 << 20

// ValidateSessionID checks a caller-supplied session id.
func ValidateSessionID(id string) error {
	if !sessionIDRegex.MatchString(id) {
		return NewValidationError("session_id", id, ErrInvalidSession)
	}
	return nil
}

// ValidateDocument checks a document before chunking.
func ValidateDocument(doc Document) error {
	if strings.TrimSpace(doc.Text) == "" {
		return NewValidationError("text", doc.Filename, ErrEmptyDocument)
	}
	if len(doc.Text) > MaxDocumentBytes {
		return NewValidationError("text", doc.Filename, ErrDocumentTooLarge)
	}
	if !utf8.ValidString(doc.Text) {
		return NewValidationError("text", doc.Filename, ErrUnsupportedFormat)
	}
	return nil
}

// ValidateQuestion checks a retrieval question.
func ValidateQuestion(q string) error {
	if strings.TrimSpace(q) == "" {
		return NewValidationError("question", q, ErrEmptyQuestion)
	}
	return nil
}
