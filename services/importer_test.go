package services

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cppla/checkin/store"
)

type rowSink struct {
	rows []map[string]any
	err  error
}

func (s *rowSink) InsertRows(ctx context.Context, rows []map[string]any) (int, error) {
	if s.err != nil {
		return 0, s.err
	}
	s.rows = append(s.rows, rows...)
	return len(rows), nil
}

func TestDelimiterFor(t *testing.T) {
	d, err := DelimiterFor("export.CSV")
	require.NoError(t, err)
	assert.Equal(t, ',', d)

	d, err = DelimiterFor("export.tsv")
	require.NoError(t, err)
	assert.Equal(t, '\t', d)

	_, err = DelimiterFor("export.xlsx")
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestParseDelimited_CoercesCells(t *testing.T) {
	in := "\ufeffuserid,count,ratio,active,lastcheckin,note,empty\n" +
		"u1,42,1.5,TRUE,2024-01-01 10:00:00,<b>hi</b> &amp; bye,null\n" +
		",,,,,,\n" +
		"short,row\n"

	rows, err := ParseDelimited(strings.NewReader(in), ',', NewImportValidator())

	require.NoError(t, err)
	require.Len(t, rows, 1)
	row := rows[0]
	assert.Equal(t, "u1", row["userid"])
	assert.Equal(t, int64(42), row["count"])
	assert.Equal(t, 1.5, row["ratio"])
	assert.Equal(t, true, row["active"])
	assert.Equal(t, "2024-01-01 10:00:00", row["lastcheckin"])
	assert.Equal(t, "hi & bye", row["note"])
	assert.Nil(t, row["empty"])
}

func TestParseDelimited_TSV(t *testing.T) {
	in := "userid\tstreak\nu1\t3\nu2\t4\n"

	rows, err := ParseDelimited(strings.NewReader(in), '\t', NewImportValidator())

	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, int64(4), rows[1]["streak"])
}

func TestParseDelimited_InvalidHeaders(t *testing.T) {
	in := "userid,last check,count;drop\nu1,x,1\n"

	_, err := ParseDelimited(strings.NewReader(in), ',', NewImportValidator())

	var he *HeaderError
	require.ErrorAs(t, err, &he)
	assert.Equal(t, []string{"last check", "count;drop"}, he.Invalid)
}

func TestParseDelimited_NoRows(t *testing.T) {
	_, err := ParseDelimited(strings.NewReader(""), ',', NewImportValidator())
	assert.ErrorIs(t, err, ErrNoRows)

	_, err = ParseDelimited(strings.NewReader("userid,count\n"), ',', NewImportValidator())
	assert.ErrorIs(t, err, ErrNoRows)
}

func TestImport_AssignsIDsAndNotifies(t *testing.T) {
	sink := &rowSink{}
	notified := 0
	im := NewImporter(sink, time.Second, nil, func() { notified++ })

	n, err := im.Import(context.Background(), "users.csv", strings.NewReader("id,userid\nkeep-me,u1\n,u2\n"))

	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, "keep-me", sink.rows[0]["id"])
	assert.NotEmpty(t, sink.rows[1]["id"])
	assert.Equal(t, 1, notified)
}

func TestImport_Errors(t *testing.T) {
	im := NewImporter(&rowSink{}, 0, nil, nil)
	_, err := im.Import(context.Background(), "users.json", strings.NewReader("{}"))
	assert.Equal(t, KindMalformedInput, KindOf(err))
	assert.ErrorIs(t, err, ErrUnsupportedFormat)

	im = NewImporter(&rowSink{err: store.ErrTableMissing}, 0, nil, nil)
	_, err = im.Import(context.Background(), "users.csv", strings.NewReader("userid\nu1\n"))
	assert.Equal(t, KindStoreUnavailable, KindOf(err))
	assert.ErrorIs(t, err, store.ErrTableMissing)
}
