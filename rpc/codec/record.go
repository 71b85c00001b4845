package codec

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sync"
)

// --------------------------------------------------------------------------
// Record registry
// --------------------------------------------------------------------------

// Record is implemented by declaratively-defined argument types: named, flat
// structs that travel as JSON. The tag is the stable wire identifier of the
// type and must be registered with RegisterRecord before the type can be
// decoded.
type Record interface {
	// RecordTag returns the stable wire tag of the record type
	RecordTag() string
}

var (
	recordMu       sync.RWMutex
	recordRegistry = map[string]func() Record{}
)

// RegisterRecord registers a factory for the record type identified by tag.
// The factory must return a pointer to a fresh zero value. Registration
// normally happens from an init function of the package defining the type;
// registering the same tag twice panics, it is always a programming error.
func RegisterRecord(tag string, factory func() Record) {
	recordMu.Lock()
	defer recordMu.Unlock()

	if _, dup := recordRegistry[tag]; dup {
		panic(fmt.Sprintf("codec: record tag %q registered twice", tag))
	}
	recordRegistry[tag] = factory
}

func lookupRecord(tag string) (func() Record, bool) {
	recordMu.RLock()
	defer recordMu.RUnlock()

	factory, ok := recordRegistry[tag]
	return factory, ok
}

// --------------------------------------------------------------------------
// Record codec
// --------------------------------------------------------------------------

// recordEnvelope is the wire form of a record: its tag plus the JSON
// serialization of its fields.
type recordEnvelope struct {
	Tag    string          `json:"tag"`
	Fields json.RawMessage `json:"fields"`
}

// NewRecord creates a codec for declaratively-defined record types. Encode
// accepts any registered Record implementation; Decode reconstructs the exact
// concrete type the tag was registered for.
func NewRecord() ICodec {
	return &recordCodecImpl{}
}

// recordCodecImpl implements the ICodec interface for tagged records
type recordCodecImpl struct{}

// --------------------------------------------------------------------------
// Interface Methods (docu see codec.ICodec)
// --------------------------------------------------------------------------

func (c *recordCodecImpl) Encode(value any) ([]byte, error) {
	rec, ok := value.(Record)
	if !ok {
		return nil, typeErrorf("record codec expects a Record, got %T", value)
	}

	tag := rec.RecordTag()
	if _, registered := lookupRecord(tag); !registered {
		return nil, lookupErrorf("record codec: tag %q is not registered", tag)
	}

	fields, err := json.Marshal(rec)
	if err != nil {
		return nil, typeErrorf("record codec: %v", err)
	}
	return json.Marshal(recordEnvelope{Tag: tag, Fields: fields})
}

func (c *recordCodecImpl) Decode(b []byte) (any, error) {
	var env recordEnvelope
	if err := json.Unmarshal(b, &env); err != nil {
		return nil, typeErrorf("record codec: %v", err)
	}
	if env.Tag == "" {
		return nil, typeErrorf("record codec: envelope has no tag")
	}

	factory, registered := lookupRecord(env.Tag)
	if !registered {
		return nil, lookupErrorf("record codec: tag %q is not registered", env.Tag)
	}

	rec := factory()
	if reflect.ValueOf(rec).Kind() != reflect.Ptr {
		return nil, typeErrorf("record codec: factory for %q must return a pointer", env.Tag)
	}
	if err := json.Unmarshal(env.Fields, rec); err != nil {
		return nil, typeErrorf("record codec: %v", err)
	}
	return rec, nil
}
