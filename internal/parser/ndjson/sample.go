// Package ndjson reads JSON record files into raw row samples. Three
// upstream shapes are accepted: a root array of objects, an envelope
// object whose first array-of-objects field holds the records, and
// line-delimited objects (optionally trailing either of the first two).
package ndjson

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
)

// IsJSON sniffs whether data looks like a JSON document rather than
// delimited text.
func IsJSON(data []byte) bool {
	trim := bytes.TrimSpace(data)
	return len(trim) > 0 && (trim[0] == '{' || trim[0] == '[')
}

// ReadSample extracts up to maxRows rows from JSON record data; maxRows <= 0
// reads every record. The first returned row is a header synthesized from
// the union of object keys in first-seen order, so downstream header
// detection treats JSON files like any other tabular source.
func ReadSample(r io.Reader, maxRows int) ([][]string, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()

	var (
		headers []string
		seen    = map[string]int{}
		objs    []map[string]any
	)
	collect := func(obj map[string]any) bool {
		keys := make([]string, 0, len(obj))
		for k := range obj {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if _, ok := seen[k]; !ok {
				seen[k] = len(headers)
				headers = append(headers, k)
			}
		}
		objs = append(objs, obj)
		return maxRows <= 0 || len(objs) < maxRows
	}

	tok, err := dec.Token()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("json: read first token: %w", err)
	}

	switch tok {
	case json.Delim('['):
		if err := readArrayOfObjects(dec, collect); err != nil {
			return nil, err
		}
		if err := expectDelim(dec, ']'); err != nil {
			return nil, err
		}
		if err := readTrailingObjects(dec, collect); err != nil {
			return nil, err
		}
	case json.Delim('{'):
		if err := readEnvelopeOrSingle(dec, collect); err != nil {
			return nil, err
		}
		if err := readTrailingObjects(dec, collect); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("json: unsupported root token %v (want object or array)", tok)
	}

	if len(objs) == 0 {
		return nil, nil
	}
	rows := make([][]string, 0, len(objs)+1)
	rows = append(rows, headers)
	for _, obj := range objs {
		rec := make([]string, len(headers))
		for k, i := range seen {
			rec[i] = cellString(obj[k])
		}
		rows = append(rows, rec)
	}
	return rows, nil
}

// readArrayOfObjects decodes elements of the current array (after '[' has
// been consumed). nil elements are skipped; collect returning false stops
// collection but the array is still drained so the decoder stays aligned.
func readArrayOfObjects(dec *json.Decoder, collect func(map[string]any) bool) error {
	full := false
	for dec.More() {
		var raw any
		if err := dec.Decode(&raw); err != nil {
			return fmt.Errorf("json: decode array element: %w", err)
		}
		if raw == nil || full {
			continue
		}
		obj, ok := raw.(map[string]any)
		if !ok {
			return fmt.Errorf("json: array element not an object (got %T)", raw)
		}
		full = !collect(obj)
	}
	return nil
}

// readEnvelopeOrSingle walks a root object (after '{' has been consumed).
// The first field whose value is an array of objects is treated as the
// record list; with no such field the object itself is one record.
func readEnvelopeOrSingle(dec *json.Decoder, collect func(map[string]any) bool) error {
	single := map[string]any{}
	streamed := false

	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return fmt.Errorf("json: read object key: %w", err)
		}
		key, ok := keyTok.(string)
		if !ok {
			return fmt.Errorf("json: object key not a string (got %T)", keyTok)
		}

		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return fmt.Errorf("json: read field %q: %w", key, err)
		}

		if !streamed && len(bytes.TrimSpace(raw)) > 0 && bytes.TrimSpace(raw)[0] == '[' {
			inner := json.NewDecoder(bytes.NewReader(raw))
			inner.UseNumber()
			if _, err := inner.Token(); err != nil {
				return fmt.Errorf("json: open envelope array: %w", err)
			}
			if err := readArrayOfObjects(inner, collect); err == nil {
				streamed = true
				continue
			}
			// Not an array of objects; fall through and keep it as a field.
		}

		var val any
		vd := json.NewDecoder(bytes.NewReader(raw))
		vd.UseNumber()
		if err := vd.Decode(&val); err != nil {
			return fmt.Errorf("json: decode field %q: %w", key, err)
		}
		single[key] = val
	}
	if err := expectDelim(dec, '}'); err != nil {
		return err
	}

	if !streamed && len(single) > 0 {
		collect(single)
	}
	return nil
}

// readTrailingObjects drains line-delimited objects after the root value.
func readTrailingObjects(dec *json.Decoder, collect func(map[string]any) bool) error {
	for {
		var obj map[string]any
		if err := dec.Decode(&obj); err != nil {
			if err == io.EOF {
				return nil
			}
			return fmt.Errorf("json: decode trailing object: %w", err)
		}
		if obj != nil {
			collect(obj)
		}
	}
}

func expectDelim(dec *json.Decoder, want json.Delim) error {
	tok, err := dec.Token()
	if err != nil {
		return fmt.Errorf("json: read %q: %w", want, err)
	}
	if tok != want {
		return fmt.Errorf("json: expected %q, got %v", want, tok)
	}
	return nil
}

// cellString flattens one JSON value into a cell. Arrays of strings join
// with ", "; nested structures keep their compact JSON form so nothing is
// silently lost.
func cellString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case json.Number:
		return t.String()
	case bool:
		if t {
			return "true"
		}
		return "false"
	case []any:
		parts := make([]string, 0, len(t))
		allStrings := true
		for _, it := range t {
			s, ok := it.(string)
			if !ok {
				allStrings = false
				break
			}
			parts = append(parts, s)
		}
		if allStrings {
			return strings.Join(parts, ", ")
		}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}
