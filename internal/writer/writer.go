// Package writer delivers transformed rows to a destination sheet.
package writer

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"sheetbridge/internal/models"
)

// Writer lands a header row plus data rows at a destination. Append adds
// below existing content; overwrite replaces the sheet. The returned count
// is data rows written, excluding the header.
type Writer interface {
	Write(ctx context.Context, destination string, headers []string, rows [][]string, mode models.WriteMode) (int, error)
}

// CSVWriter writes one CSV file per destination under a base directory.
// It stands in for the external spreadsheet service in dev and tests.
type CSVWriter struct {
	dir string
	log zerolog.Logger
}

func NewCSVWriter(dir string, log zerolog.Logger) *CSVWriter {
	return &CSVWriter{dir: dir, log: log}
}

func (w *CSVWriter) Write(ctx context.Context, destination string, headers []string, rows [][]string, mode models.WriteMode) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if destination == "" {
		return 0, fmt.Errorf("empty destination")
	}

	path := filepath.Join(w.dir, sanitize(destination)+".csv")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return 0, err
	}

	flags := os.O_CREATE | os.O_WRONLY
	writeHeader := true
	if mode == models.WriteAppend {
		flags |= os.O_APPEND
		if st, err := os.Stat(path); err == nil && st.Size() > 0 {
			writeHeader = false
		}
	} else {
		flags |= os.O_TRUNC
	}

	f, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	cw := csv.NewWriter(f)
	if writeHeader {
		if err := cw.Write(headers); err != nil {
			return 0, err
		}
	}
	written := 0
	for _, row := range rows {
		if err := cw.Write(row); err != nil {
			return written, err
		}
		written++
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return written, err
	}

	w.log.Debug().Str("destination", destination).Str("path", path).
		Int("rows", written).Str("mode", string(mode)).Msg("rows written")
	return written, nil
}

// sanitize keeps destinations filesystem-safe.
func sanitize(destination string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '-' || r == '_' || r == '.':
			return r
		default:
			return '_'
		}
	}, destination)
}
