package models

// ColumnTemplate declares one column of a desired tenant table.
type ColumnTemplate struct {
	Name       string `json:"name"`
	DataType   string `json:"data_type"`
	Nullable   bool   `json:"nullable"`
	Default    string `json:"default,omitempty"`
	PrimaryKey bool   `json:"primary_key,omitempty"`
}

// IndexTemplate declares one index of a desired tenant table. Columns are
// index key columns in order.
type IndexTemplate struct {
	Name    string   `json:"name"`
	Columns []string `json:"columns"`
	Unique  bool     `json:"unique"`
}

// TableTemplate declares the desired shape of one tenant table. The schema
// migrator diffs templates against the live schema and plans only additive
// statements; dropping a column from a template never drops it from the
// database.
type TableTemplate struct {
	Name    string           `json:"name"`
	Columns []ColumnTemplate `json:"columns"`
	Indexes []IndexTemplate  `json:"indexes,omitempty"`
}

// PrefixedName returns the physical table name under the given namespace
// prefix ("acme_" + "rental_units" -> "acme_rental_units").
func (t *TableTemplate) PrefixedName(prefix string) string {
	return prefix + t.Name
}

// ColumnByName returns the named column template, or nil.
func (t *TableTemplate) ColumnByName(name string) *ColumnTemplate {
	for i := range t.Columns {
		if t.Columns[i].Name == name {
			return &t.Columns[i]
		}
	}
	return nil
}
