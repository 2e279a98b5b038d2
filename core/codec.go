package core

import (
	"sort"
	"strconv"
)

// FieldValue is QuickBase's {"value": X} wrapper. A nil Value marshals as
// {"value": null}, which clears the field.
type FieldValue struct {
	Value any `json:"value"`
}

// WireRecord is a record as QuickBase sends and receives it: field id
// (as a string) to wrapped value.
type WireRecord map[string]FieldValue

// Document is a record keyed by field name.
//
// A key that is absent is left untouched on write; a key present with a nil
// value is sent as null.
type Document map[string]any

// omitted is the type of Omit.
type omitted struct{}

// Omit may be stored in a Document to mark a key as absent. Encode skips it
// exactly as if the key were not there.
var Omit = omitted{}

// readOnlySystemFields are maintained by QuickBase and rejected on write.
// Record owner (4) is writable and is not listed.
var readOnlySystemFields = map[int]bool{
	DateCreatedFieldID:    true,
	DateModifiedFieldID:   true,
	LastModifiedByFieldID: true,
}

// Codec converts between WireRecords and Documents.
type Codec struct {
	compiler     *Compiler
	convertDates bool
	skipReadOnly bool
}

// CodecOption configures a Codec.
type CodecOption func(*Codec)

// WithConvertDates makes Decode turn ISO 8601 strings into time.Time values.
func WithConvertDates(enabled bool) CodecOption {
	return func(c *Codec) {
		c.convertDates = enabled
	}
}

// WithSkipReadOnly makes Encode drop date created (1), date modified (2) and
// last modified by (5) instead of sending them.
func WithSkipReadOnly(enabled bool) CodecOption {
	return func(c *Codec) {
		c.skipReadOnly = enabled
	}
}

// NewCodec creates a codec that resolves names through compiler, following
// its strict or lenient mode on Encode.
func NewCodec(compiler *Compiler, opts ...CodecOption) *Codec {
	c := &Codec{compiler: compiler}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// WithCompiler returns a copy of the codec that resolves names through compiler.
func (c *Codec) WithCompiler(compiler *Compiler) *Codec {
	cp := *c
	cp.compiler = compiler
	return &cp
}

// Decode converts a wire record into a document. Unmapped system ids get
// their fixed names, other unmapped ids become "field_<id>". The record id
// is always available under "id".
func (c *Codec) Decode(app, table string, rec WireRecord) Document {
	doc := make(Document, len(rec)+1)
	catalog := c.compiler.Catalog()

	for key, fv := range rec {
		id, err := strconv.Atoi(key)
		if err != nil {
			doc[key] = fv.Value
			continue
		}
		doc[catalog.FieldName(app, table, id)] = fv.Value
	}
	if fv, ok := rec[strconv.Itoa(PrimaryKeyFieldID)]; ok {
		doc["id"] = fv.Value
	}

	if c.convertDates {
		ConvertDates(doc)
	}
	return doc
}

// DecodeAll decodes a slice of wire records.
func (c *Codec) DecodeAll(app, table string, recs []WireRecord) []Document {
	docs := make([]Document, len(recs))
	for i, rec := range recs {
		docs[i] = c.Decode(app, table, rec)
	}
	return docs
}

// Encode converts a document into a wire record. Every key with a value is
// sent, including nil. Absent keys and Omit values are skipped, as are the
// read-only system fields when WithSkipReadOnly is set.
func (c *Codec) Encode(app, table string, doc Document) (WireRecord, error) {
	rec := make(WireRecord, len(doc))

	names := make([]string, 0, len(doc))
	for name := range doc {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		value := doc[name]
		if _, skip := value.(omitted); skip {
			continue
		}
		id, err := c.compiler.FieldID(app, table, name)
		if err != nil {
			return nil, err
		}
		if id <= 0 || (c.skipReadOnly && readOnlySystemFields[id]) {
			continue
		}
		rec[strconv.Itoa(id)] = FieldValue{Value: value}
	}
	return rec, nil
}

// EncodeUpdate encodes doc and forces the primary key slot to recordID so the
// write merges into that row.
func (c *Codec) EncodeUpdate(app, table string, recordID any, doc Document) (WireRecord, error) {
	rec, err := c.Encode(app, table, doc)
	if err != nil {
		return nil, err
	}
	rec[strconv.Itoa(PrimaryKeyFieldID)] = FieldValue{Value: recordID}
	return rec, nil
}
