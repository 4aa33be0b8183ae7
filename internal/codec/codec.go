// Package codec converts a course to and from a portable text token that
// can be shared without a live connection.
//
// Tokens are "flog1." followed by the unpadded URL-safe base64 of the
// snappy-compressed course JSON. Decode also accepts the older form, the
// standard base64 of the plain course JSON.
package codec

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/golang/snappy"

	"github.com/flogapp/flog/internal/model"
)

// Prefix marks a compressed token.
const Prefix = "flog1."

// MinTokenLength is the length a token must exceed to be worth decoding.
const MinTokenLength = 20

// Encode returns the token for c.
func Encode(c model.Course) (string, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("failed to marshal course: %w", err)
	}
	return Prefix + base64.RawURLEncoding.EncodeToString(snappy.Encode(nil, data)), nil
}

// EncodeLegacy returns the uncompressed standard-base64 token understood by
// older companions.
func EncodeLegacy(c model.Course) (string, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("failed to marshal course: %w", err)
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// Plausible reports whether token has the minimal shape of a course code.
func Plausible(token string) bool {
	return len(Clean(token)) > MinTokenLength
}

// Clean strips whitespace and a surrounding JSON string quoting, as left by
// text inputs that store their value as JSON.
func Clean(token string) string {
	token = strings.TrimSpace(token)
	if len(token) >= 2 && token[0] == '"' {
		var s string
		if err := json.Unmarshal([]byte(token), &s); err == nil {
			token = strings.TrimSpace(s)
		}
	}
	return token
}

// Decode parses a token into a validated course. The returned course keeps
// the id carried by the token; importers replace it.
//
// Every failure matches model.ErrDecode. Nothing is returned unless the
// whole course decodes and validates.
func Decode(token string) (model.Course, error) {
	token = Clean(token)
	if token == "" {
		return model.Course{}, fmt.Errorf("%w: empty code", model.ErrDecode)
	}

	data, err := unwrap(token)
	if err != nil {
		return model.Course{}, err
	}

	var c model.Course
	if err := json.Unmarshal(data, &c); err != nil {
		return model.Course{}, fmt.Errorf("%w: invalid course JSON: %v", model.ErrDecode, err)
	}

	c.Normalize()
	if err := c.ValidateContent(); err != nil {
		return model.Course{}, fmt.Errorf("%w: %w", model.ErrDecode, err)
	}
	return c, nil
}

// unwrap returns the course JSON carried by token.
func unwrap(token string) ([]byte, error) {
	if rest, ok := strings.CutPrefix(token, Prefix); ok {
		compressed, err := base64.RawURLEncoding.DecodeString(rest)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid base64: %v", model.ErrDecode, err)
		}
		data, err := snappy.Decode(nil, compressed)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid compressed payload: %v", model.ErrDecode, err)
		}
		return data, nil
	}

	data, err := base64.StdEncoding.DecodeString(token)
	if err != nil {
		if data, err = base64.RawStdEncoding.DecodeString(token); err != nil {
			return nil, fmt.Errorf("%w: invalid base64: %v", model.ErrDecode, err)
		}
	}
	return data, nil
}
