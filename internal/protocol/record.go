/*
Package protocol implements the cable club wire format: one record per line,
terminated by a single LF, with comma fields and backslash escaping.

Two characters are special inside a field: "," separates fields, and "\"
escapes the character that follows it. "\\" decodes to a literal backslash,
"\," decodes to a literal comma, and "\x" for any other x decodes to a
literal x — the escape consumes itself without ever failing a parse.
*/
package protocol

import (
	"strconv"
	"strings"
)

/*
Function Name:  FromFields
Description:    wraps an already-split, already-unescaped slice of field
                values in a *Record cursor — used when the fields came from
                another record's raw_all() rather than a fresh wire line, so
                re-joining and re-parsing them would risk double-unescaping
                a value that happens to contain a literal comma or backslash
Parameters:     fields: field values, in order, already unescaped
Return Value:   a cursor over those fields
Type:           []string -> *Record
*/
func FromFields(fields []string) *Record {
	return &Record{fields: fields}
}

/*
Function Name:  Parse
Description:    splits one decoded line (without its trailing LF) into its
                unescaped fields, left to right
Parameters:     line: a single decoded record, no trailing newline
Return Value:   the fields in wire order, wrapped in a *Record cursor
Type:           string -> *Record
*/
func Parse(line string) *Record {
	var fields []string
	var field strings.Builder
	escape := false
	for _, c := range line {
		switch {
		case c == ',' && !escape:
			fields = append(fields, field.String())
			field.Reset()
		case c == '\\' && !escape:
			escape = true
		default:
			field.WriteRune(c)
			escape = false
		}
	}
	fields = append(fields, field.String())
	return &Record{fields: fields}
}

// Record is a left-to-right cursor over a parsed line's fields.
type Record struct {
	fields []string
	pos    int
	err    error
}

/*
Function Name:  next
Description:    method of Record
                returns the next unconsumed field, advancing the cursor;
                records an error once the cursor runs past the end so later
                consumers keep returning a stable zero value instead of
                panicking
Parameters:     N/A
Return Value:   the next field, or "" past the end
Type:           n/a -> string
*/
func (r *Record) next() string {
	if r.pos >= len(r.fields) {
		if r.err == nil {
			r.err = errShortRecord
		}
		return ""
	}
	f := r.fields[r.pos]
	r.pos++
	return f
}

var errShortRecord = &recordError{"record ended before all fields were read"}

type recordError struct{ msg string }

func (e *recordError) Error() string { return e.msg }

// Err reports the first field-read error encountered, if any.
func (r *Record) Err() error { return r.err }

/*
Function Name:  Bool
Description:    method of Record
                consumes a field that must be exactly "true" or "false"
Parameters:     N/A
Return Value:   the decoded bool; records an error on any other value
Type:           n/a -> bool
*/
func (r *Record) Bool() bool {
	switch r.next() {
	case "true":
		return true
	case "false":
		return false
	default:
		if r.err == nil {
			r.err = &recordError{"invalid bool field"}
		}
		return false
	}
}

/*
Function Name:  BoolOrNone
Description:    method of Record
                consumes a field that is "true", "false", or empty
Parameters:     N/A
Return Value:   pointer to the decoded bool, or nil for an empty field
Type:           n/a -> *bool
*/
func (r *Record) BoolOrNone() *bool {
	switch r.next() {
	case "true":
		v := true
		return &v
	case "false":
		v := false
		return &v
	case "":
		return nil
	default:
		if r.err == nil {
			r.err = &recordError{"invalid bool_or_none field"}
		}
		return nil
	}
}

/*
Function Name:  Int
Description:    method of Record
                consumes a field as a base-10 signed integer
Parameters:     N/A
Return Value:   the parsed int; records an error on non-numeric input
Type:           n/a -> int
*/
func (r *Record) Int() int {
	f := r.next()
	n, err := strconv.Atoi(f)
	if err != nil && r.err == nil {
		r.err = err
	}
	return n
}

/*
Function Name:  IntOrNone
Description:    method of Record
                consumes a field that is empty or a base-10 signed integer
Parameters:     N/A
Return Value:   pointer to the parsed int, or nil for an empty field
Type:           n/a -> *int
*/
func (r *Record) IntOrNone() *int {
	f := r.next()
	if f == "" {
		return nil
	}
	n, err := strconv.Atoi(f)
	if err != nil {
		if r.err == nil {
			r.err = err
		}
		return nil
	}
	return &n
}

/*
Function Name:  Str
Description:    method of Record
                consumes a field verbatim, no further decoding
Parameters:     N/A
Return Value:   the raw field
Type:           n/a -> string
*/
func (r *Record) Str() string {
	return r.next()
}

/*
Function Name:  RawAll
Description:    method of Record
                consumes every remaining field, in order, leaving the cursor
                exhausted
Parameters:     N/A
Return Value:   the remaining fields
Type:           n/a -> []string
*/
func (r *Record) RawAll() []string {
	rest := r.fields[r.pos:]
	r.pos = len(r.fields)
	return rest
}

// Remaining reports how many fields are left unconsumed, without reading them.
func (r *Record) Remaining() int {
	if r.pos >= len(r.fields) {
		return 0
	}
	return len(r.fields) - r.pos
}

// Writer assembles one outgoing record field by field.
type Writer struct {
	fields []string
}

/*
Function Name:  Encode
Description:    inverse of the Parse scanner: replace "\" with "\\" first,
                then "," with "\,"  — order matters, or the backslash the
                comma pass adds would itself be doubled
Parameters:     f: a raw field value
Return Value:   the escaped field
Type:           string -> string
*/
func Encode(f string) string {
	f = strings.ReplaceAll(f, `\`, `\\`)
	f = strings.ReplaceAll(f, `,`, `\,`)
	return f
}

// Int appends an integer field.
func (w *Writer) Int(i int) *Writer {
	w.fields = append(w.fields, strconv.Itoa(i))
	return w
}

// Str appends a string field verbatim (escaped at emission, not here).
func (w *Writer) Str(s string) *Writer {
	w.fields = append(w.fields, s)
	return w
}

// Raw appends a run of already-positional fields (e.g. a relayed party).
func (w *Writer) Raw(fs []string) *Writer {
	w.fields = append(w.fields, fs...)
	return w
}

/*
Function Name:  Line
Description:    method of Writer
                comma-joins the escaped fields and appends the terminating LF
Parameters:     N/A
Return Value:   the bytes ready to append to a connection's send buffer
Type:           n/a -> []byte
*/
func (w *Writer) Line() []byte {
	escaped := make([]string, len(w.fields))
	for i, f := range w.fields {
		escaped[i] = Encode(f)
	}
	line := strings.Join(escaped, ",") + "\n"
	return []byte(line)
}
