package source

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/yungbote/fooddata-graph/internal/pkg/importerr"
)

// DefaultSelector is the array field of the Foundation Foods release.
const DefaultSelector = "FoundationFoods"

// Reader yields food records one at a time from a JSON document without
// materialising the document.
type Reader struct {
	dec     *json.Decoder
	src     *trackingReader
	closers []io.Closer
	count   int
	done    bool
}

// NewReader positions a decoder on the array addressed by selector, a
// dot-separated path of object fields. An empty selector expects the
// document itself to be the array.
func NewReader(r io.Reader, selector string) (*Reader, error) {
	src := &trackingReader{r: r}
	dec := json.NewDecoder(src)
	dec.UseNumber()
	rd := &Reader{dec: dec, src: src}
	if err := seekArray(dec, splitSelector(selector)); err != nil {
		return nil, rd.streamFailure("seek_selector", 0, err)
	}
	return rd, nil
}

// Next returns the next record, or io.EOF after the last one.
//
// A record whose nested field has an unexpected JSON type is consumed and
// reported as RecordShapeDrift with its Index set; the caller may go on
// to the following record. Every other error ends the stream.
func (r *Reader) Next() (RawFood, error) {
	if r.done {
		return RawFood{}, io.EOF
	}
	if !r.dec.More() {
		if _, err := r.dec.Token(); err != nil {
			return RawFood{}, r.streamFailure("close_array", r.count+1,
				malformed("close_array", r.count+1, "unterminated record array", err))
		}
		r.done = true
		return RawFood{}, io.EOF
	}
	var rec RawFood
	if err := r.dec.Decode(&rec); err != nil {
		var te *json.UnmarshalTypeError
		if errors.As(err, &te) && te.Field != "" {
			r.count++
			e := importerr.Wrap(importerr.RecordShapeDrift, "decode_record",
				fmt.Sprintf("field %s has unexpected type %s", te.Field, te.Value), err)
			e.Record = r.count
			return RawFood{Index: r.count}, e
		}
		return RawFood{}, r.streamFailure("decode_record", r.count+1,
			malformed("decode_record", r.count+1, "record is not a food object", err))
	}
	r.count++
	rec.Index = r.count
	return rec, nil
}

// Count is the number of records returned so far.
func (r *Reader) Count() int { return r.count }

func (r *Reader) Close() error {
	var errs []error
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	r.closers = nil
	return errors.Join(errs...)
}

func splitSelector(selector string) []string {
	selector = strings.TrimSpace(selector)
	if selector == "" || selector == "." {
		return nil
	}
	parts := strings.Split(strings.Trim(selector, "."), ".")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func seekArray(dec *json.Decoder, path []string) error {
	for i, seg := range path {
		at := strings.Join(path[:i], ".")
		if at == "" {
			at = "document root"
		}
		tok, err := dec.Token()
		if err != nil {
			return malformed("seek_selector", 0, "document is not valid JSON", err)
		}
		if d, ok := tok.(json.Delim); !ok || d != '{' {
			return malformed("seek_selector", 0, fmt.Sprintf("expected object at %s", at), nil)
		}
		found := false
		for dec.More() {
			keyTok, err := dec.Token()
			if err != nil {
				return malformed("seek_selector", 0, "document is not valid JSON", err)
			}
			if key, _ := keyTok.(string); key == seg {
				found = true
				break
			}
			if err := skipValue(dec); err != nil {
				return malformed("seek_selector", 0, "document is not valid JSON", err)
			}
		}
		if !found {
			return malformed("seek_selector", 0, fmt.Sprintf("field %q not found at %s", seg, at), nil)
		}
	}
	tok, err := dec.Token()
	if err != nil {
		return malformed("seek_selector", 0, "document is not valid JSON", err)
	}
	if d, ok := tok.(json.Delim); !ok || d != '[' {
		return malformed("seek_selector", 0, fmt.Sprintf("selector %q does not address an array", strings.Join(path, ".")), nil)
	}
	return nil
}

// skipValue consumes one complete value token-wise.
func skipValue(dec *json.Decoder) error {
	depth := 0
	for {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		if d, ok := tok.(json.Delim); ok {
			switch d {
			case '{', '[':
				depth++
			case '}', ']':
				depth--
			}
		}
		if depth == 0 {
			return nil
		}
	}
}

// streamFailure reports err as SourceUnavailable when the underlying stream
// failed to read, since the JSON error is then only a symptom.
func (r *Reader) streamFailure(op string, record int, err error) error {
	if r.src.err == nil {
		return err
	}
	e := importerr.Wrap(importerr.SourceUnavailable, op, "source stream failed", r.src.err)
	e.Record = record
	return e
}

// trackingReader remembers the first non-EOF read error.
type trackingReader struct {
	r   io.Reader
	err error
}

func (t *trackingReader) Read(p []byte) (int, error) {
	n, err := t.r.Read(p)
	if err != nil && !errors.Is(err, io.EOF) && t.err == nil {
		t.err = err
	}
	return n, err
}

func malformed(op string, record int, msg string, cause error) error {
	e := importerr.Wrap(importerr.MalformedDocument, op, msg, cause)
	e.Record = record
	return e
}
