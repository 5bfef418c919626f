package wire

import (
	"fmt"
	"strings"

	"github.com/wolflab/simbridge-go/internal/errors"
)

// Kind identifies the type of a single fixed-width field in a wire format.
//
// The bridge understands five kinds of payload:
//
//	'i'   : 32-bit signed integer
//	'f'   : 32-bit float
//	'?'   : boolean (one byte)
//	str   : UTF-8 string, chunked transfer
//	dict  : string-keyed dictionary, JSON-encoded over the string path
type Kind byte

const (
	// Int is a 32-bit signed integer field.
	Int Kind = 'i'
	// Float is a 32-bit float field.
	Float Kind = 'f'
	// Bool is a one-byte boolean field.
	Bool Kind = '?'
)

// Format describes the typed layout of one bridge message. A format is
// either a fixed-width frame (a sequence of Int/Float/Bool fields packed
// into a single frame), a chunked string, or a JSON dictionary.
//
// The zero Format means "no payload": nothing is sent beyond the bare
// status acknowledgement.
type Format struct {
	fields []Kind
	str    bool
	dict   bool
}

// Str is the chunked-string format.
var Str = Format{str: true}

// Dict is the JSON-dictionary format.
var Dict = Format{dict: true}

// None is the empty format: the command carries no payload in that
// direction and only the status acknowledgement is exchanged.
var None = Format{}

// Fixed parses a fixed-width format specifier such as "i i f ?".
func Fixed(spec string) (Format, error) {
	var f Format

	for _, field := range strings.Fields(spec) {
		if len(field) != 1 {
			return Format{}, fmt.Errorf("%w: field %q in %q", errors.ErrBadFormat, field, spec)
		}

		switch Kind(field[0]) {
		case Int, Float, Bool:
			f.fields = append(f.fields, Kind(field[0]))
		default:
			return Format{}, fmt.Errorf("%w: field %q in %q", errors.ErrBadFormat, field, spec)
		}
	}

	if len(f.fields) == 0 {
		return Format{}, fmt.Errorf("%w: empty specifier %q", errors.ErrBadFormat, spec)
	}

	return f, nil
}

// MustFixed is Fixed, panicking on a bad specifier. Use for the static
// command table where specifiers are compile-time constants.
func MustFixed(spec string) Format {
	f, err := Fixed(spec)
	if err != nil {
		panic(err)
	}

	return f
}

// IsNone reports whether the format carries no payload.
func (f Format) IsNone() bool {
	return !f.str && !f.dict && len(f.fields) == 0
}

// NumFields returns the number of fixed-width fields, or 1 for string and
// dictionary formats.
func (f Format) NumFields() int {
	if f.str || f.dict {
		return 1
	}

	return len(f.fields)
}

// size returns the packed byte size of a fixed-width frame.
func (f Format) size() int {
	n := 0

	for _, k := range f.fields {
		switch k {
		case Bool:
			n++
		default: // Int, Float
			n += 4
		}
	}

	return n
}

// String renders the format back to its specifier form.
func (f Format) String() string {
	switch {
	case f.str:
		return "str"
	case f.dict:
		return "dict"
	case len(f.fields) == 0:
		return "none"
	}

	parts := make([]string, len(f.fields))
	for i, k := range f.fields {
		parts[i] = string(byte(k))
	}

	return strings.Join(parts, " ")
}
