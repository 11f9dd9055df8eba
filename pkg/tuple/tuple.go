package tuple

import (
	"fmt"
	"io"
	"strings"

	"github.com/pkg/errors"
)

// PageID identifies a page across the whole engine.
type PageID struct {
	TableID    int
	PageNumber int
}

func (pid PageID) String() string {
	return fmt.Sprintf("(table %d, page %d)", pid.TableID, pid.PageNumber)
}

// RecordID is the physical location of a tuple: the page it lives on and its slot.
type RecordID struct {
	PageID PageID
	Slot   int
}

func (rid RecordID) String() string {
	return fmt.Sprintf("%v slot %d", rid.PageID, rid.Slot)
}

// Tuple is a row of fields matching a TupleDesc.
type Tuple struct {
	desc   *TupleDesc
	fields []Field
	rid    *RecordID
}

// New constructs a tuple with the given descriptor and no fields set.
func New(desc *TupleDesc) *Tuple {
	return &Tuple{desc: desc, fields: make([]Field, desc.NumFields())}
}

// FromFields constructs a tuple from a full set of fields, checking their types
// against the descriptor.
func FromFields(desc *TupleDesc, fields ...Field) (*Tuple, error) {
	if len(fields) != desc.NumFields() {
		return nil, errors.Errorf("expected %d fields, got %d", desc.NumFields(), len(fields))
	}
	t := New(desc)
	for i, f := range fields {
		if err := t.SetField(i, f); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// Desc returns the tuple's descriptor.
func (t *Tuple) Desc() *TupleDesc {
	return t.desc
}

// Field returns the i-th field.
func (t *Tuple) Field(i int) Field {
	return t.fields[i]
}

// SetField sets the i-th field, checking its type against the descriptor.
func (t *Tuple) SetField(i int, f Field) error {
	ft, err := t.desc.FieldType(i)
	if err != nil {
		return err
	}
	if f.Type() != ft {
		return errors.Errorf("field %d: expected %v, got %v", i, ft, f.Type())
	}
	t.fields[i] = f
	return nil
}

// RecordID returns where the tuple is stored, or nil if it has never been stored.
func (t *Tuple) RecordID() *RecordID {
	return t.rid
}

// SetRecordID records where the tuple is stored.
func (t *Tuple) SetRecordID(rid *RecordID) {
	t.rid = rid
}

// Copy returns a tuple with the same descriptor, fields and record id that shares no
// mutable state with t.
func (t *Tuple) Copy() *Tuple {
	c := &Tuple{desc: t.desc, fields: make([]Field, len(t.fields))}
	copy(c.fields, t.fields)
	if t.rid != nil {
		rid := *t.rid
		c.rid = &rid
	}
	return c
}

// Serialize writes the tuple's fields into buf, which must hold at least Desc().Size() bytes.
func (t *Tuple) Serialize(buf []byte) error {
	if len(buf) < t.desc.Size() {
		return ErrFieldTooShort
	}
	off := 0
	for i, f := range t.fields {
		if f == nil {
			return errors.Errorf("field %d is not set", i)
		}
		f.Serialize(buf[off : off+f.Type().Len()])
		off += f.Type().Len()
	}
	return nil
}

// Parse reads a tuple with the given descriptor from the start of data.
func Parse(desc *TupleDesc, data []byte) (*Tuple, error) {
	t := New(desc)
	off := 0
	for i := 0; i < desc.NumFields(); i++ {
		ft, _ := desc.FieldType(i)
		f, err := ft.Parse(data[off:])
		if err != nil {
			return nil, errors.Wrapf(err, "parse field %d", i)
		}
		t.fields[i] = f
		off += ft.Len()
	}
	return t, nil
}

// Equals reports whether both tuples have equal descriptors and field values.
// Record ids are not compared.
func (t *Tuple) Equals(other *Tuple) bool {
	if !t.desc.Equals(other.desc) {
		return false
	}
	for i := range t.fields {
		if t.fields[i] != other.fields[i] {
			return false
		}
	}
	return true
}

// Print writes the tuple to w in the following format: (<f0>, <f1>, ...)
func (t *Tuple) Print(w io.Writer) {
	fmt.Fprintf(w, "(%s)", t.String())
}

func (t *Tuple) String() string {
	parts := make([]string, len(t.fields))
	for i, f := range t.fields {
		if f == nil {
			parts[i] = "null"
			continue
		}
		parts[i] = f.String()
	}
	return strings.Join(parts, ", ")
}
