package text

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// Validation errors
var (
	ErrEmptyContent = errors.New("message content is empty")
	ErrTooLong      = errors.New("message content too long")
)

// MaxContentLength is the maximum message length in runes.
const MaxContentLength = 10000

// Validator rejects message content that must not reach the write path.
type Validator struct {
	maxLength int
}

// NewValidator creates a validator. A maxLength <= 0 uses MaxContentLength.
func NewValidator(maxLength int) *Validator {
	if maxLength <= 0 {
		maxLength = MaxContentLength
	}
	return &Validator{maxLength: maxLength}
}

// Validate returns nil when content is acceptable.
func (v *Validator) Validate(content string) error {
	if strings.TrimSpace(content) == "" {
		return ErrEmptyContent
	}
	if n := utf8.RuneCountInString(content); n > v.maxLength {
		return fmt.Errorf("%w: %d runes, max %d", ErrTooLong, n, v.maxLength)
	}
	return nil
}
