// Package recording stores episode data in a SQLite database.
//
// The recorder keeps one table per record struct: a table is declared
// with a sample entry whose exported fields become the columns, and every
// insert buffers a same-typed value. Buffers flush in one transaction
// once the batch limit is reached, on Flush, and at process exit.
package recording

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"reflect"
	"strings"

	"github.com/fatih/structs"

	// SQLite driver.
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/xid"
	"github.com/tebeka/atexit"
)

// defaultBatchSize is the number of buffered entries that forces a flush.
const defaultBatchSize = 100000

// Recorder buffers typed records and writes them to storage in batches.
type Recorder interface {
	// CreateTable declares a table whose columns are the sample entry's
	// exported fields.
	CreateTable(name string, sampleEntry any) error

	// Insert buffers one entry for a declared table. The entry must be
	// the table's struct type.
	Insert(name string, entry any) error

	// ListTables returns the declared table names.
	ListTables() []string

	// Flush writes all buffered entries in one transaction.
	Flush() error

	// Close flushes and releases the database.
	Close() error
}

type table struct {
	structType reflect.Type
	entries    []any
}

type sqliteRecorder struct {
	log *slog.Logger
	db  *sql.DB

	path       string
	tables     map[string]*table
	batchSize  int
	entryCount int
}

// New opens a SQLite-backed recorder at path. An empty path picks a
// unique file name in the working directory. The file must not already
// exist.
func New(log *slog.Logger, path string) (Recorder, error) {
	if path == "" {
		path = "simbridge_recording_" + xid.New().String() + ".sqlite3"
	}

	if _, err := os.Stat(path); err == nil {
		return nil, fmt.Errorf("recording file %s already exists", path)
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open recording database: %w", err)
	}

	r := &sqliteRecorder{
		log:       log.With("component", "recording"),
		db:        db,
		path:      path,
		tables:    make(map[string]*table),
		batchSize: defaultBatchSize,
	}

	r.log.Info("Recording database created", "path", path)

	atexit.Register(func() { _ = r.Flush() })

	return r, nil
}

// NewWithDB wraps an already opened database, mainly for tests.
func NewWithDB(log *slog.Logger, db *sql.DB) Recorder {
	r := &sqliteRecorder{
		log:       log.With("component", "recording"),
		db:        db,
		tables:    make(map[string]*table),
		batchSize: defaultBatchSize,
	}

	atexit.Register(func() { _ = r.Flush() })

	return r
}

func isAllowedType(kind reflect.Kind) bool {
	switch kind {
	case
		reflect.Bool,
		reflect.Int,
		reflect.Int8,
		reflect.Int16,
		reflect.Int32,
		reflect.Int64,
		reflect.Uint,
		reflect.Uint8,
		reflect.Uint16,
		reflect.Uint32,
		reflect.Uint64,
		reflect.Float32,
		reflect.Float64,
		reflect.String:
		return true
	default:
		return false
	}
}

func checkStructFields(entry any) error {
	types := reflect.TypeOf(entry)
	if types == nil || types.Kind() != reflect.Struct {
		return fmt.Errorf("entry must be a struct, got %T", entry)
	}

	for i := 0; i < types.NumField(); i++ {
		field := types.Field(i)
		if !isAllowedType(field.Type.Kind()) {
			return fmt.Errorf("field %s has unsupported type %s", field.Name, field.Type)
		}
	}

	return nil
}

func (r *sqliteRecorder) CreateTable(name string, sampleEntry any) error {
	if err := checkStructFields(sampleEntry); err != nil {
		return err
	}

	if _, exists := r.tables[name]; exists {
		return fmt.Errorf("table %s already declared", name)
	}

	fields := strings.Join(structs.Names(sampleEntry), ", \n\t")

	createSQL := `CREATE TABLE ` + name + ` (` + "\n\t" + fields + "\n" + `);`
	if _, err := r.db.Exec(createSQL); err != nil {
		return fmt.Errorf("create table %s: %w", name, err)
	}

	r.tables[name] = &table{
		structType: reflect.TypeOf(sampleEntry),
		entries:    []any{},
	}

	return nil
}

func (r *sqliteRecorder) Insert(name string, entry any) error {
	tab, exists := r.tables[name]
	if !exists {
		return fmt.Errorf("table %s does not exist", name)
	}

	if reflect.TypeOf(entry) != tab.structType {
		return fmt.Errorf("table %s holds %s entries, got %T", name, tab.structType, entry)
	}

	tab.entries = append(tab.entries, entry)
	r.entryCount++

	if r.entryCount >= r.batchSize {
		return r.Flush()
	}

	return nil
}

func (r *sqliteRecorder) ListTables() []string {
	names := make([]string, 0, len(r.tables))
	for name := range r.tables {
		names = append(names, name)
	}

	return names
}

func (r *sqliteRecorder) Flush() error {
	if r.entryCount == 0 {
		return nil
	}

	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("begin flush: %w", err)
	}

	for name, tab := range r.tables {
		if len(tab.entries) == 0 {
			continue
		}

		if err := flushTable(tx, name, tab); err != nil {
			_ = tx.Rollback()

			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit flush: %w", err)
	}

	r.entryCount = 0

	return nil
}

func flushTable(tx *sql.Tx, name string, tab *table) error {
	marks := structs.Names(tab.entries[0])
	for i := range marks {
		marks[i] = "?"
	}

	stmt, err := tx.Prepare("INSERT INTO " + name + " VALUES (" + strings.Join(marks, ", ") + ")")
	if err != nil {
		return fmt.Errorf("prepare insert for %s: %w", name, err)
	}
	defer stmt.Close()

	for _, entry := range tab.entries {
		value := reflect.ValueOf(entry)
		fields := make([]any, 0, value.NumField())

		for i := 0; i < value.NumField(); i++ {
			fields = append(fields, value.Field(i).Interface())
		}

		if _, err := stmt.Exec(fields...); err != nil {
			return fmt.Errorf("insert into %s: %w", name, err)
		}
	}

	tab.entries = nil

	return nil
}

func (r *sqliteRecorder) Close() error {
	if err := r.Flush(); err != nil {
		return err
	}

	return r.db.Close()
}
