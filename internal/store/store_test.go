package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mschirtzinger/nvd-cache/internal/cacheerr"
	"github.com/mschirtzinger/nvd-cache/internal/feed"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestStore opens a store in a temp dir with the schema created.
func setupTestStore(t *testing.T) *Store {
	t.Helper()

	s, err := Open(filepath.Join(t.TempDir(), "nvd", "nvd.sqlite3"))
	require.NoError(t, err)
	require.NoError(t, s.EnsureSchema(context.Background()))
	return s
}

func item(id, lastModified string, descs ...feed.LocalizedText) feed.BatchItem {
	bi := feed.BatchItem{
		ID:           id,
		Descriptions: descs,
		Payload:      `{"cve":{"CVE_data_meta":{"ID":"` + id + `"}}}`,
	}
	if lastModified != "" {
		bi.LastModified = feed.ParseTimestamp(lastModified)
	}
	return bi
}

func en(v string) feed.LocalizedText { return feed.LocalizedText{Lang: "en", Value: v} }

func ptrTime(s string) *time.Time {
	t := feed.ParseTimestamp(s)
	return &t
}

func countRecords(t *testing.T, s *Store) int {
	t.Helper()
	st, err := s.Stats(context.Background())
	require.NoError(t, err)
	return st.Records
}

func TestOpen_CreatesParentDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a", "b", "nvd.sqlite3")
	s, err := Open(path)
	require.NoError(t, err)
	assert.Equal(t, path, s.Path())
	assert.DirExists(t, filepath.Dir(path))
}

func TestOpen_PathWithURIMetacharacters(t *testing.T) {
	for _, dir := range []string{"a?b", "x%41y", "c#d"} {
		t.Run(dir, func(t *testing.T) {
			root := t.TempDir()
			path := filepath.Join(root, dir, "nvd.sqlite3")

			s, err := Open(path)
			require.NoError(t, err)
			ctx := context.Background()
			require.NoError(t, s.EnsureSchema(ctx))
			_, err = s.UpsertRecords(ctx, &feed.RecordBatch{Items: []feed.BatchItem{item("CVE-1", "", en("one"))}}, nil)
			require.NoError(t, err)

			// The database lives at exactly the requested path.
			assert.FileExists(t, path)
			entries, err := os.ReadDir(root)
			require.NoError(t, err)
			require.Len(t, entries, 1)
			assert.Equal(t, dir, entries[0].Name())

			rec, err := s.GetRecord(ctx, "CVE-1")
			require.NoError(t, err)
			assert.Equal(t, "one", *rec.Description)
		})
	}
}

func TestDSN_EscapesPath(t *testing.T) {
	s := &Store{path: "/tmp/a?b/x%41y/nvd.sqlite3"}
	got, err := s.dsn()
	require.NoError(t, err)
	assert.Equal(t, "file:///tmp/a%3Fb/x%2541y/nvd.sqlite3?_txlock=exclusive", got)
}

func TestOpen_EmptyPath(t *testing.T) {
	_, err := Open("")
	assert.ErrorIs(t, err, cacheerr.ErrStorage)
}

func TestEnsureSchema_CreatesTables(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	conn, err := s.connect(ctx)
	require.NoError(t, err)
	defer conn.Close()

	for _, table := range []string{"records", "partition_metadata"} {
		var count int
		err := conn.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?`, table).Scan(&count)
		require.NoError(t, err)
		assert.Equal(t, 1, count, "table %s", table)
	}
}

func TestEnsureSchema_Idempotent(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	_, err := s.UpsertRecords(ctx, &feed.RecordBatch{Items: []feed.BatchItem{item("CVE-1", "")}}, nil)
	require.NoError(t, err)

	require.NoError(t, s.EnsureSchema(ctx))
	require.NoError(t, s.EnsureSchema(ctx))
	assert.Equal(t, 1, countRecords(t, s))
}

func TestGetPartitionMetadata_UnknownAndOrder(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	meta := &feed.Metadata{
		LastModified: feed.ParseTimestamp("2021-12-18T19:00:00"),
		Size:         1744779,
		ZipSize:      116171,
		GzSize:       116031,
		SHA256:       "0EA3",
	}
	require.NoError(t, s.UpsertPartitionMetadata(ctx, "recent", meta))

	states, err := s.GetPartitionMetadata(ctx, []string{"2002", "recent", "modified"})
	require.NoError(t, err)
	require.Len(t, states, 3)

	assert.Equal(t, "2002", states[0].Name)
	assert.False(t, states[0].Known())

	assert.Equal(t, "recent", states[1].Name)
	require.True(t, states[1].Known())
	assert.Equal(t, "2021-12-18T19:00:00", states[1].Metadata.FormatLastModified())
	assert.Equal(t, uint64(1744779), states[1].Metadata.Size)
	assert.Equal(t, uint64(116171), states[1].Metadata.ZipSize)
	assert.Equal(t, uint64(116031), states[1].Metadata.GzSize)
	assert.Equal(t, "0EA3", states[1].Metadata.SHA256)

	assert.Equal(t, "modified", states[2].Name)
	assert.False(t, states[2].Known())
}

func TestGetPartitionMetadata_Empty(t *testing.T) {
	s := setupTestStore(t)
	states, err := s.GetPartitionMetadata(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, states)
}

func TestUpsertPartitionMetadata_Replaces(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	first := &feed.Metadata{LastModified: feed.ParseTimestamp("2021-01-01T00:00:00"), Size: 1, SHA256: "a"}
	second := &feed.Metadata{LastModified: feed.ParseTimestamp("2021-02-01T00:00:00"), Size: 2, ZipSize: 3, GzSize: 4, SHA256: "b"}

	require.NoError(t, s.UpsertPartitionMetadata(ctx, "2021", first))
	require.NoError(t, s.UpsertPartitionMetadata(ctx, "2021", second))

	st, err := s.Stats(ctx)
	require.NoError(t, err)
	require.Len(t, st.Partitions, 1)

	got := st.Partitions[0].Metadata
	assert.Equal(t, "2021-02-01T00:00:00", got.FormatLastModified())
	assert.Equal(t, uint64(2), got.Size)
	assert.Equal(t, uint64(3), got.ZipSize)
	assert.Equal(t, uint64(4), got.GzSize)
	assert.Equal(t, "b", got.SHA256)
}

func TestUpsertPartitionMetadata_Nil(t *testing.T) {
	s := setupTestStore(t)
	err := s.UpsertPartitionMetadata(context.Background(), "2021", nil)
	assert.ErrorIs(t, err, cacheerr.ErrStorage)
}

func TestGetRecord_NotFoundThenInserted(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	_, err := s.GetRecord(ctx, "CVE-2021-43437")
	require.Error(t, err)
	assert.ErrorIs(t, err, cacheerr.ErrNotFound)
	assert.Equal(t, cacheerr.KindNotFound, cacheerr.KindOf(err))

	bi := item("CVE-2021-43437", "2021-12-17T17:15:00", en("stored XSS"))
	_, err = s.UpsertRecords(ctx, &feed.RecordBatch{Items: []feed.BatchItem{bi}}, nil)
	require.NoError(t, err)

	rec, err := s.GetRecord(ctx, "CVE-2021-43437")
	require.NoError(t, err)
	assert.Equal(t, "CVE-2021-43437", rec.ID)
	require.NotNil(t, rec.Description)
	assert.Equal(t, "stored XSS", *rec.Description)
	assert.Equal(t, bi.Payload, rec.Payload)
}

func TestUpsertRecords_DescriptionResolution(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	batch := &feed.RecordBatch{Items: []feed.BatchItem{
		item("CVE-1", "", feed.LocalizedText{Lang: "es", Value: "hola"}, en("first"), en("second")),
		item("CVE-2", "", feed.LocalizedText{Lang: "fr", Value: "bonjour"}),
		item("CVE-3", ""),
	}}
	_, err := s.UpsertRecords(ctx, batch, nil)
	require.NoError(t, err)

	rec, err := s.GetRecord(ctx, "CVE-1")
	require.NoError(t, err)
	require.NotNil(t, rec.Description)
	assert.Equal(t, "first", *rec.Description)

	for _, id := range []string{"CVE-2", "CVE-3"} {
		rec, err := s.GetRecord(ctx, id)
		require.NoError(t, err)
		assert.Nil(t, rec.Description, id)
	}
}

func TestUpsertRecords_ReplacesExisting(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	_, err := s.UpsertRecords(ctx, &feed.RecordBatch{Items: []feed.BatchItem{item("CVE-1", "", en("old"))}}, nil)
	require.NoError(t, err)

	updated := item("CVE-1", "", en("new"))
	updated.Payload = `{"version":2}`
	_, err = s.UpsertRecords(ctx, &feed.RecordBatch{Items: []feed.BatchItem{updated}}, nil)
	require.NoError(t, err)

	rec, err := s.GetRecord(ctx, "CVE-1")
	require.NoError(t, err)
	assert.Equal(t, "new", *rec.Description)
	assert.Equal(t, `{"version":2}`, rec.Payload)
	assert.Equal(t, 1, countRecords(t, s))
}

func TestUpsertRecords_Idempotent(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	batch := &feed.RecordBatch{Items: []feed.BatchItem{
		item("CVE-1", "2021-01-01T00:00:00", en("one")),
		item("CVE-2", "2021-01-02T00:00:00", en("two")),
	}}

	_, err := s.UpsertRecords(ctx, batch, nil)
	require.NoError(t, err)
	once, err := s.ListAllRecords(ctx)
	require.NoError(t, err)

	_, err = s.UpsertRecords(ctx, batch, nil)
	require.NoError(t, err)
	twice, err := s.ListAllRecords(ctx)
	require.NoError(t, err)

	assert.Equal(t, once, twice)
	assert.Len(t, twice, 2)
}

func TestUpsertRecords_Cutoff(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	batch := &feed.RecordBatch{Items: []feed.BatchItem{
		item("CVE-before", "2021-12-18T18:59:59", en("before")),
		item("CVE-equal", "2021-12-18T19:00:00", en("equal")),
		item("CVE-after", "2021-12-18T19:00:01", en("after")),
		item("CVE-unknown", "", en("unknown")),
	}}

	skipped, err := s.UpsertRecords(ctx, batch, ptrTime("2021-12-18T19:00:00"))
	require.NoError(t, err)
	assert.Equal(t, 1, skipped)

	for _, id := range []string{"CVE-before", "CVE-equal", "CVE-unknown"} {
		_, err := s.GetRecord(ctx, id)
		assert.NoError(t, err, id)
	}
	_, err = s.GetRecord(ctx, "CVE-after")
	assert.ErrorIs(t, err, cacheerr.ErrNotFound)
}

func TestUpsertRecords_NoCutoffWritesEverything(t *testing.T) {
	s := setupTestStore(t)
	batch := &feed.RecordBatch{Items: []feed.BatchItem{
		item("CVE-1", "2099-01-01T00:00:00"),
		item("CVE-2", "1999-01-01T00:00:00"),
	}}

	skipped, err := s.UpsertRecords(context.Background(), batch, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, skipped)
	assert.Equal(t, 2, countRecords(t, s))
}

func TestUpsertRecords_NilBatch(t *testing.T) {
	s := setupTestStore(t)
	skipped, err := s.UpsertRecords(context.Background(), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, skipped)
}

func TestUpsertRecords_RollsBackOnFailure(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	// Abort any write of CVE-bad to simulate a storage failure mid-batch.
	conn, err := s.connect(ctx)
	require.NoError(t, err)
	_, err = conn.Exec(`
	CREATE TRIGGER fail_bad BEFORE INSERT ON records
	WHEN NEW.id = 'CVE-bad'
	BEGIN
		SELECT RAISE(ABORT, 'simulated storage failure');
	END`)
	require.NoError(t, err)
	require.NoError(t, conn.Close())

	batch := &feed.RecordBatch{Items: []feed.BatchItem{
		item("CVE-1", "", en("one")),
		item("CVE-2", "", en("two")),
		item("CVE-bad", "", en("bad")),
		item("CVE-4", "", en("four")),
	}}

	skipped, err := s.UpsertRecords(ctx, batch, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, cacheerr.ErrStorage)
	assert.Equal(t, 0, skipped)

	assert.Equal(t, 0, countRecords(t, s))
	for _, id := range []string{"CVE-1", "CVE-2", "CVE-4"} {
		_, err := s.GetRecord(ctx, id)
		assert.ErrorIs(t, err, cacheerr.ErrNotFound, id)
	}
}

func TestListAllRecords(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	all, err := s.ListAllRecords(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)

	_, err = s.UpsertRecords(ctx, &feed.RecordBatch{Items: []feed.BatchItem{
		item("CVE-b", "", en("b")),
		item("CVE-a", ""),
	}}, nil)
	require.NoError(t, err)

	all, err = s.ListAllRecords(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "CVE-a", all[0].ID)
	assert.Nil(t, all[0].Description)
	assert.Equal(t, "CVE-b", all[1].ID)
}

func TestSearchDescription(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	_, err := s.UpsertRecords(ctx, &feed.RecordBatch{Items: []feed.BatchItem{
		item("CVE-2019-11063", "", en("A flaw causes an unintended temperature in the victim's mouth and throat when exploited.")),
		item("CVE-2021-43437", "", en("Stored XSS in setting.php.")),
		item("CVE-2021-44228", "", feed.LocalizedText{Lang: "fr", Value: "mouth and throat"}),
	}}, nil)
	require.NoError(t, err)

	ids, err := s.SearchDescription(ctx, "mouth and throat")
	require.NoError(t, err)
	assert.Equal(t, []string{"CVE-2019-11063"}, ids)

	ids, err = s.SearchDescription(ctx, "no such text")
	require.NoError(t, err)
	assert.NotNil(t, ids)
	assert.Empty(t, ids)
}

func TestSearchDescription_WildcardsNotEscaped(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	_, err := s.UpsertRecords(ctx, &feed.RecordBatch{Items: []feed.BatchItem{
		item("CVE-1", "", en("buffer overflow")),
		item("CVE-2", "", en("use after free")),
	}}, nil)
	require.NoError(t, err)

	ids, err := s.SearchDescription(ctx, "buf%flow")
	require.NoError(t, err)
	assert.Equal(t, []string{"CVE-1"}, ids)

	ids, err = s.SearchDescription(ctx, "use_after")
	require.NoError(t, err)
	assert.Equal(t, []string{"CVE-2"}, ids)
}

func TestStats(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	_, err := s.UpsertRecords(ctx, &feed.RecordBatch{Items: []feed.BatchItem{item("CVE-1", ""), item("CVE-2", "")}}, nil)
	require.NoError(t, err)
	require.NoError(t, s.UpsertPartitionMetadata(ctx, "recent", &feed.Metadata{SHA256: "x"}))
	require.NoError(t, s.UpsertPartitionMetadata(ctx, "2002", &feed.Metadata{SHA256: "y"}))

	st, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, st.Records)
	require.Len(t, st.Partitions, 2)
	assert.Equal(t, "2002", st.Partitions[0].Name)
	assert.Equal(t, "recent", st.Partitions[1].Name)
	assert.Greater(t, st.SizeBytes, int64(0))
}
