package recording

import (
	"database/sql"
	"log/slog"
	"path/filepath"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"
)

type sampleRecord struct {
	Name  string
	Value float64
	Count int
}

func testRecorder(t *testing.T) (Recorder, *sql.DB) {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	return NewWithDB(slog.Default(), db), db
}

func TestCreateTableAndInsert(t *testing.T) {
	r, db := testRecorder(t)

	require.NoError(t, r.CreateTable("samples", sampleRecord{}))
	require.NoError(t, r.Insert("samples", sampleRecord{Name: "a", Value: 1.5, Count: 2}))
	require.NoError(t, r.Insert("samples", sampleRecord{Name: "b", Value: 2.5, Count: 4}))
	require.NoError(t, r.Flush())

	rows, err := db.Query("SELECT Name, Value, Count FROM samples ORDER BY Name")
	require.NoError(t, err)
	defer rows.Close()

	var got []sampleRecord

	for rows.Next() {
		var rec sampleRecord
		require.NoError(t, rows.Scan(&rec.Name, &rec.Value, &rec.Count))
		got = append(got, rec)
	}

	require.NoError(t, rows.Err())
	require.Equal(t, []sampleRecord{
		{Name: "a", Value: 1.5, Count: 2},
		{Name: "b", Value: 2.5, Count: 4},
	}, got)
}

func TestInsertValidation(t *testing.T) {
	r, _ := testRecorder(t)

	require.Error(t, r.Insert("missing", sampleRecord{}))

	require.NoError(t, r.CreateTable("samples", sampleRecord{}))
	require.Error(t, r.Insert("samples", struct{ Other int }{1}))
}

func TestCreateTableValidation(t *testing.T) {
	r, _ := testRecorder(t)

	// Only flat scalar fields can become columns.
	require.Error(t, r.CreateTable("bad", struct{ M map[string]int }{}))
	require.Error(t, r.CreateTable("bad", 42))

	require.NoError(t, r.CreateTable("samples", sampleRecord{}))
	require.Error(t, r.CreateTable("samples", sampleRecord{}))
}

func TestListTables(t *testing.T) {
	r, _ := testRecorder(t)

	require.Empty(t, r.ListTables())
	require.NoError(t, r.CreateTable("samples", sampleRecord{}))
	require.Equal(t, []string{"samples"}, r.ListTables())
}

func TestFlushOnlyTouchesBufferedTables(t *testing.T) {
	r, db := testRecorder(t)

	require.NoError(t, r.CreateTable("filled", sampleRecord{}))
	require.NoError(t, r.CreateTable("empty", sampleRecord{}))
	require.NoError(t, r.Insert("filled", sampleRecord{Name: "a"}))
	require.NoError(t, r.Flush())
	require.NoError(t, r.Flush())

	var count int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM empty").Scan(&count))
	require.Zero(t, count)
}

func TestNewRefusesExistingFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "episode.sqlite3")

	r, err := New(slog.Default(), path)
	require.NoError(t, err)
	require.NoError(t, r.Close())

	_, err = New(slog.Default(), path)
	require.Error(t, err)
}

func TestEpisodeLog(t *testing.T) {
	r, db := testRecorder(t)

	log, err := NewEpisodeLog(r)
	require.NoError(t, err)

	episode := log.StartEpisode()
	require.NotEmpty(t, episode)

	require.NoError(t, log.RecordStep(
		map[int]int{1: 2},
		map[int]float64{1: 0.5},
		map[int]float64{1: 12.0},
		map[int]bool{1: false},
	))
	require.NoError(t, log.RecordStep(
		map[int]int{1: 0},
		map[int]float64{1: 1.5},
		map[int]float64{1: 14.0},
		map[int]bool{1: true},
	))
	require.NoError(t, log.CloseEpisode())

	var transitions int
	require.NoError(t, db.QueryRow(
		"SELECT COUNT(*) FROM transitions WHERE Episode = ?", episode).Scan(&transitions))
	require.Equal(t, 2, transitions)

	var summary EpisodeSummary
	require.NoError(t, db.QueryRow(
		"SELECT Episode, Steps, TotalReward, Arrived FROM episodes").Scan(
		&summary.Episode, &summary.Steps, &summary.TotalReward, &summary.Arrived))
	require.Equal(t, EpisodeSummary{Episode: episode, Steps: 2, TotalReward: 2.0, Arrived: 1}, summary)

	// Closing twice writes nothing further.
	require.NoError(t, log.CloseEpisode())
}
