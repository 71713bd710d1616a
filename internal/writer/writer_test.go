package writer

import (
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"sheetbridge/internal/models"
)

func readCSV(t *testing.T, path string) [][]string {
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	return rows
}

func TestCSVWriterOverwrite(t *testing.T) {
	dir := t.TempDir()
	w := NewCSVWriter(dir, zerolog.Nop())

	headers := []string{"Order ID", "E-mail"}
	n, err := w.Write(context.Background(), "sheet1", headers, [][]string{{"1", "a@x"}, {"2", "b@x"}}, models.WriteOverwrite)
	require.NoError(t, err)
	require.Equal(t, 2, n)

	n, err = w.Write(context.Background(), "sheet1", headers, [][]string{{"3", "c@x"}}, models.WriteOverwrite)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	rows := readCSV(t, filepath.Join(dir, "sheet1.csv"))
	require.Equal(t, [][]string{{"Order ID", "E-mail"}, {"3", "c@x"}}, rows)
}

func TestCSVWriterAppendSkipsRepeatedHeader(t *testing.T) {
	dir := t.TempDir()
	w := NewCSVWriter(dir, zerolog.Nop())

	headers := []string{"Order ID"}
	_, err := w.Write(context.Background(), "sheet2", headers, [][]string{{"1"}}, models.WriteAppend)
	require.NoError(t, err)
	_, err = w.Write(context.Background(), "sheet2", headers, [][]string{{"2"}}, models.WriteAppend)
	require.NoError(t, err)

	rows := readCSV(t, filepath.Join(dir, "sheet2.csv"))
	require.Equal(t, [][]string{{"Order ID"}, {"1"}, {"2"}}, rows)
}

func TestCSVWriterSanitizesDestination(t *testing.T) {
	dir := t.TempDir()
	w := NewCSVWriter(dir, zerolog.Nop())

	_, err := w.Write(context.Background(), "tenant/../sheet 3", []string{"h"}, nil, models.WriteOverwrite)
	require.NoError(t, err)

	_, statErr := os.Stat(filepath.Join(dir, "tenant_.._sheet_3.csv"))
	require.NoError(t, statErr)
}

func TestCSVWriterEmptyDestination(t *testing.T) {
	w := NewCSVWriter(t.TempDir(), zerolog.Nop())
	_, err := w.Write(context.Background(), "", []string{"h"}, nil, models.WriteOverwrite)
	require.Error(t, err)
}
