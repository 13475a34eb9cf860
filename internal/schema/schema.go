package schema

import (
	"errors"
	"fmt"

	"github.com/pgquery/pgquery/internal/database"
)

var ErrUnknownTable = errors.New("unknown table")

// Info is the reflected shape of the public schema. Tables are in alphabetical order.
type Info struct {
	Tables        []Table                   `json:"tables"`
	Relationships []Relationship            `json:"relationships"`
	PrimaryKeys   map[string][]string       `json:"primary_keys"`
	SampleData    map[string][]database.Row `json:"sample_data"`
}

// Table returns the table with the given name.
func (i Info) Table(name string) (Table, bool) {
	for _, table := range i.Tables {
		if table.Name == name {
			return table, true
		}
	}
	return Table{}, false
}

type Table struct {
	Name    string   `json:"name"`
	Columns []Column `json:"columns"`
	Comment string   `json:"comment,omitempty"`
}

type Column struct {
	Name      string  `json:"name"`
	Type      string  `json:"type"`
	Nullable  bool    `json:"nullable"`
	Default   *string `json:"default,omitempty"`
	MaxLength *int    `json:"max_length,omitempty"`
	Precision *int    `json:"precision,omitempty"`
	Scale     *int    `json:"scale,omitempty"`
	Comment   string  `json:"comment,omitempty"`
}

type Relationship struct {
	Table            string `json:"table"`
	Column           string `json:"column"`
	ReferencesTable  string `json:"references_table"`
	ReferencesColumn string `json:"references_column"`
}

// ReflectionError reports a failed catalog query.
type ReflectionError struct {
	Op  string
	Err error
}

func (e *ReflectionError) Error() string {
	return fmt.Sprintf("schema reflection %s: %v", e.Op, e.Err)
}

func (e *ReflectionError) Unwrap() error {
	return e.Err
}
