package pagination

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
)

// Cursor is the opaque page token payload. Fingerprint ties the token to the query that
// produced it so a token cannot be replayed against a different filter.
type Cursor struct {
	Offset      int    `json:"o"`
	Fingerprint string `json:"f,omitempty"`
}

// EncodeToken serialises the cursor into a base64 URL-safe page token. A zero offset encodes to "".
func EncodeToken(cursor Cursor) (string, error) {
	if cursor.Offset <= 0 {
		return "", nil
	}
	data, err := json.Marshal(cursor)
	if err != nil {
		return "", fmt.Errorf("pagination: encode token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(data), nil
}

// DecodeToken parses a token produced by EncodeToken and checks it against the query fingerprint.
func DecodeToken(token, fingerprint string) (Cursor, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Cursor{}, nil
	}
	decoded, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return Cursor{}, fmt.Errorf("%w: %v", ErrInvalidPageToken, err)
	}
	var cursor Cursor
	if err := json.Unmarshal(decoded, &cursor); err != nil {
		return Cursor{}, fmt.Errorf("%w: %v", ErrInvalidPageToken, err)
	}
	if cursor.Offset < 0 {
		return Cursor{}, fmt.Errorf("%w: negative offset", ErrInvalidPageToken)
	}
	if cursor.Fingerprint != fingerprint {
		return Cursor{}, fmt.Errorf("%w: token does not match query", ErrInvalidPageToken)
	}
	return cursor, nil
}
