package tuple

import (
	"strings"

	"github.com/pkg/errors"
)

// ErrNoSuchField is returned when a field name or index does not exist.
var ErrNoSuchField = errors.New("no such field")

// DescItem is one column of a TupleDesc. The name is optional.
type DescItem struct {
	Type Type
	Name string
}

// TupleDesc describes the schema of a tuple.
type TupleDesc struct {
	items []DescItem
}

// NewTupleDesc constructs a descriptor from field types and (optional) names.
// names may be nil or shorter than types; missing names are left empty.
func NewTupleDesc(types []Type, names []string) *TupleDesc {
	items := make([]DescItem, len(types))
	for i, t := range types {
		items[i].Type = t
		if i < len(names) {
			items[i].Name = names[i]
		}
	}
	return &TupleDesc{items: items}
}

// NumFields returns the number of fields.
func (td *TupleDesc) NumFields() int {
	return len(td.items)
}

// FieldType returns the type of the i-th field.
func (td *TupleDesc) FieldType(i int) (Type, error) {
	if i < 0 || i >= len(td.items) {
		return 0, ErrNoSuchField
	}
	return td.items[i].Type, nil
}

// FieldName returns the name of the i-th field.
func (td *TupleDesc) FieldName(i int) (string, error) {
	if i < 0 || i >= len(td.items) {
		return "", ErrNoSuchField
	}
	return td.items[i].Name, nil
}

// FieldIndex returns the index of the first field with the given name.
func (td *TupleDesc) FieldIndex(name string) (int, error) {
	for i, item := range td.items {
		if item.Name != "" && item.Name == name {
			return i, nil
		}
	}
	return -1, errors.Wrapf(ErrNoSuchField, "%q", name)
}

// Size returns the number of bytes a tuple with this descriptor occupies on disk.
func (td *TupleDesc) Size() int {
	size := 0
	for _, item := range td.items {
		size += item.Type.Len()
	}
	return size
}

// Equals reports whether both descriptors have the same field types in the same
// order. Names are ignored.
func (td *TupleDesc) Equals(other *TupleDesc) bool {
	if td == other {
		return true
	}
	if td == nil || other == nil || len(td.items) != len(other.items) {
		return false
	}
	for i := range td.items {
		if td.items[i].Type != other.items[i].Type {
			return false
		}
	}
	return true
}

// Merge returns a new descriptor with the fields of a followed by those of b.
func Merge(a, b *TupleDesc) *TupleDesc {
	items := make([]DescItem, 0, len(a.items)+len(b.items))
	items = append(items, a.items...)
	items = append(items, b.items...)
	return &TupleDesc{items: items}
}

func (td *TupleDesc) String() string {
	var sb strings.Builder
	for i, item := range td.items {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(item.Type.String())
		sb.WriteString("(")
		sb.WriteString(item.Name)
		sb.WriteString(")")
	}
	return sb.String()
}
