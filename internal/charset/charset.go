// Package charset maps declared character-set labels to text encodings.
package charset

import (
	"mime"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/encoding/ianaindex"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// DefaultName is the canonical name of the fallback encoding.
const DefaultName = "utf-8"

// Encoding is a resolved text encoding with its canonical name.
type Encoding struct {
	Name string
	Enc  encoding.Encoding
}

// UTF8 is the encoding used when nothing else can be determined.
var UTF8 = Encoding{Name: DefaultName, Enc: unicode.UTF8}

// Resolve maps an IANA or WHATWG charset label to an encoding. Empty or
// unrecognised labels resolve to UTF-8.
func Resolve(label string) Encoding {
	label = strings.Trim(strings.TrimSpace(label), `"'`)
	if label == "" {
		return UTF8
	}
	if enc, err := htmlindex.Get(label); err == nil && enc != nil {
		name, err := htmlindex.Name(enc)
		if err != nil || name == "" {
			name = strings.ToLower(label)
		}
		return Encoding{Name: name, Enc: enc}
	}
	if enc, err := ianaindex.IANA.Encoding(label); err == nil && enc != nil {
		name, err := ianaindex.IANA.Name(enc)
		if err != nil || name == "" {
			name = label
		}
		return Encoding{Name: strings.ToLower(name), Enc: enc}
	}
	return UTF8
}

// FromContentType returns the charset parameter of a Content-Type header
// value, or "" when there is none.
func FromContentType(contentType string) string {
	if strings.TrimSpace(contentType) == "" {
		return ""
	}
	_, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return ""
	}
	return params["charset"]
}

// Decode converts b from e to a UTF-8 string.
func (e Encoding) Decode(b []byte) (string, error) {
	if e.Enc == nil || e.Enc == unicode.UTF8 {
		return string(b), nil
	}
	out, _, err := transform.Bytes(e.Enc.NewDecoder(), b)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// IsDefault reports whether e is the UTF-8 fallback.
func (e Encoding) IsDefault() bool {
	return e.Name == DefaultName
}
