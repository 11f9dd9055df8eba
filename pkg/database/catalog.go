package database

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"heapdb/pkg/tuple"

	"github.com/pkg/errors"
	"gopkg.in/ini.v1"
)

// CatalogFileName is the file in the data folder that records every table's schema.
const CatalogFileName = "catalog.ini"

// catalog persists table schemas as one INI section per table:
//
//	[users]
//	fields = id:int,name:string
type catalog struct {
	path string
	raw  *ini.File
}

func loadCatalog(folder string) (*catalog, error) {
	path := filepath.Join(folder, CatalogFileName)
	c := &catalog{path: path, raw: ini.Empty()}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return c, nil
	}
	raw, err := ini.Load(path)
	if err != nil {
		return nil, errors.Wrapf(err, "load catalog %s", path)
	}
	c.raw = raw
	return c, nil
}

// tables returns the recorded table names in sorted order.
func (c *catalog) tables() []string {
	var names []string
	for _, s := range c.raw.Sections() {
		if s.Name() == ini.DefaultSection {
			continue
		}
		names = append(names, s.Name())
	}
	sort.Strings(names)
	return names
}

func (c *catalog) desc(name string) (*tuple.TupleDesc, error) {
	s, err := c.raw.GetSection(name)
	if err != nil {
		return nil, errors.Wrapf(ErrTableNotFound, "%s", name)
	}
	return ParseSchema(strings.Split(s.Key("fields").String(), ","))
}

func (c *catalog) add(name string, desc *tuple.TupleDesc) error {
	s, err := c.raw.NewSection(name)
	if err != nil {
		return err
	}
	if _, err = s.NewKey("fields", strings.Join(FormatSchema(desc), ",")); err == nil {
		err = c.raw.SaveTo(c.path)
	}
	if err != nil {
		c.raw.DeleteSection(name)
		return errors.Wrapf(err, "save catalog %s", c.path)
	}
	return nil
}

// ParseSchema parses "name:type" column specs into a descriptor.
func ParseSchema(cols []string) (*tuple.TupleDesc, error) {
	if len(cols) == 0 {
		return nil, errors.New("a table needs at least one column")
	}
	types := make([]tuple.Type, len(cols))
	names := make([]string, len(cols))
	for i, col := range cols {
		name, typ, ok := strings.Cut(strings.TrimSpace(col), ":")
		if !ok || name == "" {
			return nil, errors.Errorf("column %q: want name:type", col)
		}
		t, err := tuple.ParseType(typ)
		if err != nil {
			return nil, errors.Wrapf(err, "column %s", name)
		}
		types[i], names[i] = t, name
	}
	return tuple.NewTupleDesc(types, names), nil
}

// FormatSchema is the inverse of ParseSchema.
func FormatSchema(desc *tuple.TupleDesc) []string {
	cols := make([]string, desc.NumFields())
	for i := range cols {
		t, _ := desc.FieldType(i)
		name, _ := desc.FieldName(i)
		cols[i] = name + ":" + t.String()
	}
	return cols
}
