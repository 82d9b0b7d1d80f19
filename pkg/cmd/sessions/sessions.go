package sessions

import (
	"cmp"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/samber/lo"
	"github.com/spf13/cobra"

	"github.com/mpapenbr/forza-session-recorder/log"
	"github.com/mpapenbr/forza-session-recorder/pkg/config"
	"github.com/mpapenbr/forza-session-recorder/pkg/session"
	"github.com/mpapenbr/forza-session-recorder/pkg/sink"
)

var outputFormat string

// Info describes a committed session file.
type Info struct {
	session.IDInfo
	ID       string
	Path     string
	Rows     int
	Size     int64
	Modified time.Time
}

func NewSessionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "lists the recorded sessions of a folder",
		RunE: func(cmd *cobra.Command, args []string) error {
			infos, err := List(config.OutputFolder)
			if err != nil {
				return err
			}
			return Render(cmd.OutOrStdout(), infos, outputFormat)
		},
	}
	cmd.Flags().StringVarP(&config.OutputFolder,
		"folder", "f",
		".",
		"folder containing the session files")
	cmd.Flags().StringVar(&outputFormat,
		"format",
		"table",
		"output format (table, csv, markdown)")
	return cmd
}

// List returns the committed sessions in folder ordered by start time.
// Hidden files (temp and part files), files not named like a session and
// unreadable files are skipped.
func List(folder string) ([]*Info, error) {
	entries, err := os.ReadDir(folder)
	if err != nil {
		return nil, err
	}
	candidates := lo.Filter(entries, func(e os.DirEntry, _ int) bool {
		return e.Type().IsRegular() &&
			!strings.HasPrefix(e.Name(), ".") &&
			filepath.Ext(e.Name()) == sink.FileExt
	})
	ret := make([]*Info, 0, len(candidates))
	for _, e := range candidates {
		id := strings.TrimSuffix(e.Name(), sink.FileExt)
		idInfo, err := session.ParseID(id)
		if err != nil {
			log.Debug("skipping file", log.String("file", e.Name()), log.ErrorField(err))
			continue
		}
		fi, err := e.Info()
		if err != nil {
			log.Warn("skipping file", log.String("file", e.Name()), log.ErrorField(err))
			continue
		}
		path := filepath.Join(folder, e.Name())
		rows, err := countRows(path)
		if err != nil {
			log.Warn("skipping unreadable session file",
				log.String("file", e.Name()), log.ErrorField(err))
			continue
		}
		ret = append(ret, &Info{
			IDInfo:   *idInfo,
			ID:       id,
			Path:     path,
			Rows:     rows,
			Size:     fi.Size(),
			Modified: fi.ModTime(),
		})
	}
	slices.SortFunc(ret, func(a, b *Info) int {
		return cmp.Or(a.StartedAt.Compare(b.StartedAt), cmp.Compare(a.Seq, b.Seq))
	})
	return ret, nil
}

// countRows returns the number of data rows, the header is not counted.
func countRows(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	r := csv.NewReader(f)
	r.ReuseRecord = true
	n := 0
	for {
		_, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return 0, err
		}
		n++
	}
	if n == 0 {
		return 0, nil
	}
	return n - 1, nil
}

func Render(w io.Writer, infos []*Info, format string) error {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"Session", "Class", "Car", "Started (UTC)", "Rows", "Size"})
	for _, i := range infos {
		t.AppendRow(table.Row{
			i.ID,
			i.Vehicle.Class,
			i.Vehicle.Ordinal,
			i.StartedAt.Format(time.DateTime),
			i.Rows,
			formatSize(i.Size),
		})
	}
	t.AppendFooter(table.Row{
		fmt.Sprintf("%d sessions", len(infos)), "", "", "",
		lo.SumBy(infos, func(i *Info) int { return i.Rows }),
		formatSize(lo.SumBy(infos, func(i *Info) int64 { return i.Size })),
	})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 5, Align: text.AlignRight, AlignFooter: text.AlignRight},
		{Number: 6, Align: text.AlignRight, AlignFooter: text.AlignRight},
	})
	switch format {
	case "table":
		t.Render()
	case "csv":
		t.RenderCSV()
	case "markdown":
		t.RenderMarkdown()
	default:
		return fmt.Errorf("unknown output format %q", format)
	}
	return nil
}

func formatSize(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
