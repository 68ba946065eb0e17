package visa

import (
	"bytes"
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/ianaindex"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// Encoding is a named text encoding used to render commands to bytes and to
// interpret response bytes.
//
// The zero value behaves as UTF-8. UTF-8 is strict in both directions: invalid
// sequences are reported as ErrEncoding instead of being replaced.
type Encoding struct {
	name string
	enc  encoding.Encoding // nil means strict UTF-8
	unit int               // code unit width in bytes for fixed-width encodings, else 0
}

var (
	// UTF8 is the default encoding.
	UTF8 = Encoding{name: "UTF-8"}
	// Latin1 is ISO 8859-1.
	Latin1 = NewEncoding("ISO-8859-1", charmap.ISO8859_1)
	// Windows1252 is the Windows Western European code page.
	Windows1252 = NewEncoding("windows-1252", charmap.Windows1252)
	// UTF16LE is little-endian UTF-16 without a byte order mark.
	UTF16LE = NewEncoding("UTF-16LE", unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM))
	// UTF16BE is big-endian UTF-16 without a byte order mark.
	UTF16BE = NewEncoding("UTF-16BE", unicode.UTF16(unicode.BigEndian, unicode.IgnoreBOM))
)

// NewEncoding wraps an x/text encoding under the given name.
// UTF-16 and UTF-32 names are treated as fixed-width encodings when framing responses.
func NewEncoding(name string, enc encoding.Encoding) Encoding {
	e := Encoding{name: name, enc: enc}

	switch upper := strings.ToUpper(name); {
	case strings.HasPrefix(upper, "UTF-16"):
		e.unit = 2
	case strings.HasPrefix(upper, "UTF-32"):
		e.unit = 4
	}

	return e
}

// LookupEncoding resolves an IANA charset name such as "utf-8", "latin1" or "windows-1252".
func LookupEncoding(name string) (Encoding, error) {
	enc, err := ianaindex.IANA.Encoding(strings.TrimSpace(name))
	if err != nil {
		return Encoding{}, fmt.Errorf("%w: unknown encoding %q: %w", ErrEncoding, name, err)
	}
	if enc == nil {
		return Encoding{}, fmt.Errorf("%w: unsupported encoding %q", ErrEncoding, name)
	}

	if enc == unicode.UTF8 {
		return UTF8, nil
	}

	canonical, err := ianaindex.MIME.Name(enc)
	if err != nil || canonical == "" {
		if canonical, err = ianaindex.IANA.Name(enc); err != nil {
			canonical = name
		}
	}

	return NewEncoding(canonical, enc), nil
}

// Name returns the encoding name.
func (e Encoding) Name() string {
	if e.name == "" {
		return UTF8.name
	}

	return e.name
}

// String implements fmt.Stringer.
func (e Encoding) String() string { return e.Name() }

// IsZero reports whether e is the zero value.
func (e Encoding) IsZero() bool { return e.name == "" && e.enc == nil }

// Encode renders s as bytes.
func (e Encoding) Encode(s string) ([]byte, error) {
	if e.enc == nil {
		out, _, err := transform.Bytes(encoding.UTF8Validator, []byte(s))
		if err != nil {
			return nil, fmt.Errorf("%w: %q is not valid %s: %w", ErrEncoding, s, e.Name(), err)
		}

		return out, nil
	}

	out, err := e.enc.NewEncoder().Bytes([]byte(s))
	if err != nil {
		return nil, fmt.Errorf("%w: %q cannot be represented in %s: %w", ErrEncoding, s, e.Name(), err)
	}

	return out, nil
}

// Decode interprets b as text.
func (e Encoding) Decode(b []byte) (string, error) {
	if e.enc == nil {
		out, _, err := transform.Bytes(encoding.UTF8Validator, b)
		if err != nil {
			return "", fmt.Errorf("%w: response is not valid %s: %w", ErrEncoding, e.Name(), err)
		}

		return string(out), nil
	}

	if e.unit > 0 && len(b)%e.unit != 0 {
		return "", fmt.Errorf("%w: response is not valid %s: %d bytes is not a whole number of code units",
			ErrEncoding, e.Name(), len(b))
	}

	out, err := e.enc.NewDecoder().Bytes(b)
	if err != nil {
		return "", fmt.Errorf("%w: response is not valid %s: %w", ErrEncoding, e.Name(), err)
	}

	// x/text decoders substitute U+FFFD for invalid input instead of failing.
	if bytes.ContainsRune(out, utf8.RuneError) && !e.encodesReplacement(b) {
		return "", fmt.Errorf("%w: response is not valid %s: invalid byte sequence", ErrEncoding, e.Name())
	}

	return string(out), nil
}

// encodesReplacement reports whether b literally contains U+FFFD encoded under e.
func (e Encoding) encodesReplacement(b []byte) bool {
	rep, err := e.enc.NewEncoder().Bytes([]byte(string(utf8.RuneError)))
	if err != nil || len(rep) == 0 {
		return false
	}

	return bytes.Contains(b, rep)
}

// frameAccept returns the check a terminator match must pass to end a message, or nil
// when every byte match is a real terminator.
//
// In a fixed-width encoding a match must start on a code unit boundary. In other
// multi-byte encodings the decoded message must end with the terminator text.
// UTF-8 and single-byte charmaps need no check.
func (e Encoding) frameAccept(terminator string) func(msg []byte, start int) bool {
	switch {
	case e.enc == nil:
		return nil
	case e.unit > 0:
		unit := e.unit
		return func(_ []byte, start int) bool { return start%unit == 0 }
	}

	if _, ok := e.enc.(*charmap.Charmap); ok {
		return nil
	}

	return func(msg []byte, _ int) bool {
		s, err := e.Decode(msg)
		return err == nil && strings.HasSuffix(s, terminator)
	}
}
