// Package datarecording stores simulation results in an SQLite database.
// Tables are created from flat struct samples and filled by reflection, so
// every component's Stats struct records without per-table glue.
package datarecording

import (
	"database/sql"
	"fmt"
	"os"
	"reflect"
	"strings"

	// Registers the SQLite driver.
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/xid"
	"github.com/tebeka/atexit"
)

// DataRecorder is a backend that can record and store data.
type DataRecorder interface {
	// CreateTable creates a table shaped like the sample entry.
	CreateTable(tableName string, sampleEntry any)

	// InsertData buffers an entry for a table that already exists.
	InsertData(tableName string, entry any)

	// ListTables returns the names of all created tables.
	ListTables() []string

	// Flush writes all buffered entries to the database.
	Flush()
}

// New creates a DataRecorder writing to `<path>.sqlite3`. An empty path
// picks a unique run-id-based name.
func New(path string) DataRecorder {
	w := &sqliteWriter{
		dbName: path,
		tables: make(map[string]*table),
	}

	w.init()

	atexit.Register(func() { w.Flush() })

	return w
}

type table struct {
	structType reflect.Type
	entries    []any
}

type sqliteWriter struct {
	*sql.DB

	dbName string
	tables map[string]*table
}

func (w *sqliteWriter) init() {
	if w.dbName == "" {
		w.dbName = "nvoverlay_" + xid.New().String()
	}

	filename := w.dbName + ".sqlite3"

	if _, err := os.Stat(filename); err == nil {
		panic(fmt.Sprintf("file %s already exists", filename))
	}

	fmt.Fprintf(os.Stderr, "Database created for recording: %s\n", filename)

	db, err := sql.Open("sqlite3", filename)
	if err != nil {
		panic(err)
	}

	w.DB = db
}

func fieldNames(entry any) []string {
	t := reflect.TypeOf(entry)
	if t.Kind() != reflect.Struct {
		panic(fmt.Sprintf("entry must be a struct, not %s", t.Kind()))
	}

	names := make([]string, 0, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		switch field.Type.Kind() {
		case reflect.Bool,
			reflect.Int, reflect.Int8, reflect.Int16,
			reflect.Int32, reflect.Int64,
			reflect.Uint, reflect.Uint8, reflect.Uint16,
			reflect.Uint32, reflect.Uint64,
			reflect.Float32, reflect.Float64,
			reflect.String:
			names = append(names, field.Name)
		default:
			panic(fmt.Sprintf("field %s has unsupported type %s",
				field.Name, field.Type))
		}
	}

	return names
}

func (w *sqliteWriter) CreateTable(tableName string, sampleEntry any) {
	fields := strings.Join(fieldNames(sampleEntry), ", \n\t")

	w.mustExecute(
		`CREATE TABLE ` + tableName + ` (` + "\n\t" + fields + "\n" + `);`)

	w.tables[tableName] = &table{
		structType: reflect.TypeOf(sampleEntry),
	}
}

func (w *sqliteWriter) InsertData(tableName string, entry any) {
	t, exists := w.tables[tableName]
	if !exists {
		panic(fmt.Sprintf("table %s does not exist", tableName))
	}

	if reflect.TypeOf(entry) != t.structType {
		panic(fmt.Sprintf("entry type %T does not match table %s",
			entry, tableName))
	}

	t.entries = append(t.entries, entry)
}

func (w *sqliteWriter) ListTables() []string {
	tables := make([]string, 0, len(w.tables))
	for name := range w.tables {
		tables = append(tables, name)
	}

	return tables
}

func (w *sqliteWriter) Flush() {
	w.mustExecute("BEGIN TRANSACTION")
	defer w.mustExecute("COMMIT TRANSACTION")

	for tableName, t := range w.tables {
		if len(t.entries) == 0 {
			continue
		}

		stmt := w.prepareStatement(tableName, t.entries[0])
		for _, entry := range t.entries {
			v := reflect.ValueOf(entry)
			args := make([]any, v.NumField())
			for i := range args {
				args[i] = v.Field(i).Interface()
			}

			if _, err := stmt.Exec(args...); err != nil {
				panic(err)
			}
		}

		t.entries = nil
		stmt.Close()
	}
}

func (w *sqliteWriter) mustExecute(query string) sql.Result {
	res, err := w.Exec(query)
	if err != nil {
		panic(fmt.Sprintf("failed to execute %q: %v", query, err))
	}

	return res
}

func (w *sqliteWriter) prepareStatement(
	tableName string,
	sample any,
) *sql.Stmt {
	n := fieldNames(sample)
	for i := range n {
		n[i] = "?"
	}

	stmt, err := w.Prepare(
		"INSERT INTO " + tableName + " VALUES (" + strings.Join(n, ", ") + ")")
	if err != nil {
		panic(err)
	}

	return stmt
}
