package codec

import (
	"encoding/binary"
	"fmt"
)

const maxFieldLen = 0xffff

// RecordListField pairs a wire field name with the codec encoding that
// field's values. The order of fields is part of the wire format.
type RecordListField struct {
	Name  string
	Codec ICodec
}

// NewRecordList creates a codec for a homogeneous sequence of small, flat
// records. Each record is encoded field by field in declared order as
// length-delimited name/value pairs, with an empty name terminating the
// record. Values are []map[string]any keyed by the declared field names.
func NewRecordList(fields []RecordListField) (ICodec, error) {
	if len(fields) == 0 {
		return nil, fmt.Errorf("record list codec requires at least one field")
	}

	seen := make(map[string]bool, len(fields))
	for _, f := range fields {
		if f.Name == "" {
			return nil, fmt.Errorf("record list codec: empty field name")
		}
		if len(f.Name) > maxFieldLen {
			return nil, fmt.Errorf("record list codec: field name %q too long", f.Name)
		}
		if f.Codec == nil {
			return nil, fmt.Errorf("record list codec: field %q has no codec", f.Name)
		}
		if seen[f.Name] {
			return nil, fmt.Errorf("record list codec: duplicate field %q", f.Name)
		}
		seen[f.Name] = true
	}

	return &recordListCodecImpl{fields: fields}, nil
}

// recordListCodecImpl implements the ICodec interface for record sequences
type recordListCodecImpl struct {
	fields []RecordListField
}

// --------------------------------------------------------------------------
// Interface Methods (docu see codec.ICodec)
// --------------------------------------------------------------------------

func (c *recordListCodecImpl) Encode(value any) ([]byte, error) {
	records, ok := value.([]map[string]any)
	if !ok {
		return nil, typeErrorf("record list codec expects []map[string]any, got %T", value)
	}

	var out []byte
	for i, record := range records {
		if len(record) != len(c.fields) {
			return nil, typeErrorf(
				"record list codec: record %d has %d fields, want %d",
				i, len(record), len(c.fields),
			)
		}

		for _, f := range c.fields {
			fieldValue, present := record[f.Name]
			if !present {
				return nil, typeErrorf("record list codec: record %d is missing field %q", i, f.Name)
			}

			encoded, err := f.Codec.Encode(fieldValue)
			if err != nil {
				return nil, fmt.Errorf("record list codec: record %d field %q: %w", i, f.Name, err)
			}
			if len(encoded) > maxFieldLen {
				return nil, typeErrorf(
					"record list codec: record %d field %q is %d bytes, exceeding the wire limit",
					i, f.Name, len(encoded),
				)
			}

			out = binary.BigEndian.AppendUint16(out, uint16(len(f.Name)))
			out = append(out, f.Name...)
			out = binary.BigEndian.AppendUint16(out, uint16(len(encoded)))
			out = append(out, encoded...)
		}

		// Empty name terminates the record.
		out = binary.BigEndian.AppendUint16(out, 0)
	}

	return out, nil
}

func (c *recordListCodecImpl) Decode(b []byte) (any, error) {
	byName := make(map[string]ICodec, len(c.fields))
	for _, f := range c.fields {
		byName[f.Name] = f.Codec
	}

	records := []map[string]any{}
	record := map[string]any{}
	pos := 0

	readChunk := func() ([]byte, error) {
		if pos+2 > len(b) {
			return nil, typeErrorf("record list codec: truncated length at byte %d", pos)
		}
		n := int(binary.BigEndian.Uint16(b[pos : pos+2]))
		pos += 2
		if pos+n > len(b) {
			return nil, typeErrorf("record list codec: truncated chunk at byte %d", pos)
		}
		chunk := b[pos : pos+n]
		pos += n
		return chunk, nil
	}

	for pos < len(b) {
		name, err := readChunk()
		if err != nil {
			return nil, err
		}

		// Record terminator.
		if len(name) == 0 {
			if len(record) != len(c.fields) {
				return nil, typeErrorf(
					"record list codec: record %d has %d fields, want %d",
					len(records), len(record), len(c.fields),
				)
			}
			records = append(records, record)
			record = map[string]any{}
			continue
		}

		fieldCodec, known := byName[string(name)]
		if !known {
			return nil, lookupErrorf("record list codec: unknown field %q", name)
		}

		encoded, err := readChunk()
		if err != nil {
			return nil, err
		}
		fieldValue, err := fieldCodec.Decode(encoded)
		if err != nil {
			return nil, fmt.Errorf("record list codec: field %q: %w", name, err)
		}
		record[string(name)] = fieldValue
	}

	if len(record) != 0 {
		return nil, typeErrorf("record list codec: unterminated final record")
	}
	return records, nil
}
