// Package extract decodes the plain-text content of raw email messages.
package extract

import (
	"encoding/base64"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"

	"github.com/ArionMiles/upiledger/pkg/api"
)

const mimeTextPlain = "text/plain"

// encodings are tried in order. Gmail uses the URL-safe alphabet, other
// sources hand over standard base64, sometimes without padding.
var encodings = []*base64.Encoding{
	base64.URLEncoding,
	base64.RawURLEncoding,
	base64.StdEncoding,
	base64.RawStdEncoding,
}

// Content returns the decoded plain-text body of an email.
//
// A body attached directly to a part-less message is returned as is. Otherwise
// the part tree is searched depth-first for the first text/plain part carrying
// body bytes. When no such part exists the top-level body and then the message
// snippet are used. Content never fails: a message without usable content
// yields an empty string.
func Content(email *api.RawEmail) string {
	if email == nil {
		return ""
	}
	return norm.NFKC.String(content(email))
}

func content(email *api.RawEmail) string {
	payload := email.Payload
	if payload != nil {
		if len(payload.Parts) == 0 {
			if text, ok := decodeBody(payload.Body); ok {
				return text
			}
		}

		if text, ok := findText(payload); ok {
			return text
		}

		if text, ok := decodeBody(payload.Body); ok {
			return text
		}
	}

	return email.Snippet
}

// findText walks the part tree depth-first and returns the first decodable text/plain body.
func findText(part *api.MessagePart) (string, bool) {
	if part == nil {
		return "", false
	}

	if part.MimeType == mimeTextPlain {
		if text, ok := decodeBody(part.Body); ok {
			return text, true
		}
	}

	for _, sub := range part.Parts {
		if text, ok := findText(sub); ok {
			return text, true
		}
	}

	return "", false
}

func decodeBody(body *api.MessagePartBody) (string, bool) {
	if body == nil || body.Data == "" {
		return "", false
	}

	data := strings.TrimSpace(body.Data)
	for _, enc := range encodings {
		decoded, err := enc.DecodeString(data)
		if err != nil {
			continue
		}
		if !utf8.Valid(decoded) {
			return strings.ToValidUTF8(string(decoded), "�"), true
		}
		return string(decoded), true
	}

	return "", false
}
