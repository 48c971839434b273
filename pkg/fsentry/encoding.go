package fsentry

import (
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/ianaindex"

	"github.com/lesync/lesync/pkg/errors"
)

// Codec converts filenames between their on-disk byte form and UTF-8 text.
// Conversions are lossy by construction: undecodable bytes and unencodable
// runes are replaced rather than reported, so a strange filename can never
// abort a walk.
type Codec struct {
	name string
	enc  encoding.Encoding
}

// NewCodec looks up a text encoding by its IANA name ("utf-8",
// "shift_jis", "iso-8859-1", ...). The empty name and UTF-8 both yield the
// identity codec.
func NewCodec(name string) (*Codec, error) {
	// Go strings already carry filenames as raw UTF-8-ish bytes, so UTF-8
	// is the identity conversion. Keeping it nil-enc preserves undecodable
	// byte sequences exactly instead of substituting replacement runes.
	switch strings.ToLower(name) {
	case "", "utf-8", "utf8":
		return &Codec{name: "utf-8"}, nil
	}

	enc, err := ianaindex.IANA.Encoding(name)
	if err != nil || enc == nil {
		return nil, errors.NewConfigError("unknown encoding %q", name)
	}
	return &Codec{name: name, enc: enc}, nil
}

// Name returns the codec's encoding name.
func (c *Codec) Name() string {
	return c.name
}

// Decode converts an on-disk name in the codec's encoding to UTF-8 text.
func (c *Codec) Decode(raw string) string {
	if c == nil || c.enc == nil {
		return raw
	}

	decoded, err := c.enc.NewDecoder().String(raw)
	if err != nil {
		return raw
	}
	return decoded
}

// Encode converts UTF-8 text to the codec's on-disk byte form.
func (c *Codec) Encode(text string) string {
	if c == nil || c.enc == nil {
		return text
	}

	encoder := encoding.ReplaceUnsupported(c.enc.NewEncoder())
	encoded, err := encoder.String(text)
	if err != nil {
		return text
	}
	return encoded
}

// Recode converts a name from one codec's byte form to another's.
func Recode(name string, from, to *Codec) string {
	return to.Encode(from.Decode(name))
}
