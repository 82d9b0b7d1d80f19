package sessions

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gotest.tools/v3/fs"

	"github.com/mpapenbr/forza-session-recorder/pkg/model"
)

func csvContent(rows int) string {
	var b strings.Builder
	b.WriteString(strings.Join(model.Columns(), ",") + "\n")
	for i := 0; i < rows; i++ {
		b.WriteString(strings.Join((&model.Sample{RacePosition: uint8(i + 1)}).Record(), ",") + "\n")
	}
	return b.String()
}

func TestList(t *testing.T) {
	dir := fs.NewDir(t, "sessions",
		fs.WithFile("5_2_20240317T130509_002.csv", csvContent(3)),
		fs.WithFile("7_9_20240317T120000_001.csv", csvContent(1)),
		fs.WithFile("5_2_20240317T130509_001.csv", csvContent(0)),
		fs.WithFile(".5_2_20240317T140000_003.csv.part", csvContent(2)),
		fs.WithFile(".5_2_20240317T140000_004.csv.1234.tmp", csvContent(2)),
		fs.WithFile("notes.csv", "a,b\n1,2\n"),
		fs.WithFile("readme.txt", "hello"),
		fs.WithDir("archive"),
	)
	infos, err := List(dir.Path())
	require.NoError(t, err)
	ids := []string{}
	for _, i := range infos {
		ids = append(ids, i.ID)
	}
	assert.Equal(t, []string{
		"7_9_20240317T120000_001",
		"5_2_20240317T130509_001",
		"5_2_20240317T130509_002",
	}, ids)

	last := infos[2]
	assert.Equal(t, 3, last.Rows)
	assert.Equal(t, int32(5), last.Vehicle.Class)
	assert.Equal(t, int32(2), last.Vehicle.Ordinal)
	assert.Equal(t, uint64(2), last.Seq)
	assert.Equal(t, time.Date(2024, 3, 17, 13, 5, 9, 0, time.UTC), last.StartedAt)
	assert.Equal(t, filepath.Join(dir.Path(), "5_2_20240317T130509_002.csv"), last.Path)
	assert.Equal(t, int64(len(csvContent(3))), last.Size)
	assert.Equal(t, 0, infos[1].Rows)

	_, err = List(filepath.Join(dir.Path(), "missing"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestList_SkipsCorruptFile(t *testing.T) {
	dir := fs.NewDir(t, "sessions",
		fs.WithFile("5_2_20240317T130509_001.csv", csvContent(2)),
		fs.WithFile("5_2_20240317T130509_002.csv", "a,b\n1,2,3\n"),
		fs.WithFile("5_2_20240317T130509_003.csv", "a,\"b\n"),
	)
	infos, err := List(dir.Path())
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.Equal(t, "5_2_20240317T130509_001", infos[0].ID)
	assert.Equal(t, 2, infos[0].Rows)
}

func TestRender(t *testing.T) {
	infos := []*Info{
		{ID: "5_2_20240317T130509_001", Rows: 3, Size: 2048},
		{ID: "7_9_20240317T120000_002", Rows: 4, Size: 100},
	}
	for _, format := range []string{"table", "csv", "markdown"} {
		t.Run(format, func(t *testing.T) {
			var b bytes.Buffer
			require.NoError(t, Render(&b, infos, format))
			out := b.String()
			assert.Contains(t, out, "5_2_20240317T130509_001")
			assert.Contains(t, out, "7_9_20240317T120000_002")
			assert.Contains(t, strings.ToLower(out), "2 sessions")
		})
	}
	assert.Error(t, Render(&bytes.Buffer{}, infos, "yaml"))
}

func TestFormatSize(t *testing.T) {
	assert.Equal(t, "512 B", formatSize(512))
	assert.Equal(t, "2.0 KiB", formatSize(2048))
	assert.Equal(t, "1.5 MiB", formatSize(1536*1024))
}
