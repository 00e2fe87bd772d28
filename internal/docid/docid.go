// Package docid mints and parses document identifiers.
package docid

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// URLPrefix marks the shareable URL form of an ID.
const URLPrefix = "automerge:"

// ErrInvalid is returned for strings that are not document IDs.
var ErrInvalid = errors.New("invalid document id")

var encoding = base64.RawURLEncoding

// ID is an opaque, URL-safe document identifier.
type ID string

// New returns a random ID.
func New() ID {
	u := uuid.New()

	return ID(encoding.EncodeToString(u[:]))
}

// Parse accepts either a bare ID or its URL form.
func Parse(s string) (ID, error) {
	raw := strings.TrimPrefix(s, URLPrefix)

	b, err := encoding.DecodeString(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalid, s)
	}

	if _, err := uuid.FromBytes(b); err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalid, s)
	}

	return ID(raw), nil
}

func (id ID) String() string {
	return string(id)
}

// URL returns the shareable form.
func (id ID) URL() string {
	return URLPrefix + string(id)
}
