package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"

	"github.com/born-ml/seq2seq/internal/serialization"
)

var (
	normalStyle       = lipgloss.NewStyle().Padding(0, 1)
	rightAlignedStyle = lipgloss.NewStyle().Align(lipgloss.Right).Padding(0, 1)
	headerStyle       = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	tableBorderColor  = "#705090"
)

func inspectCmd(args []string) error {
	fs := flag.NewFlagSet("inspect", flag.ContinueOnError)
	skipChecksum := fs.Bool("skip-checksum", false, "Do not verify the payload checksum.")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("inspect takes exactly one checkpoint file")
	}
	path := fs.Arg(0)
	header, payload, err := serialization.ReadFile(path, serialization.ReaderOptions{SkipChecksumValidation: *skipChecksum})
	if err != nil {
		return err
	}
	renderCheckpoint(os.Stdout, path, header, len(payload))
	return nil
}

func newTable() *lgtable.Table {
	return lgtable.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color(tableBorderColor)))
}

// renderCheckpoint prints a summary table and a tensor table.
func renderCheckpoint(w io.Writer, path string, h *serialization.Header, payloadSize int) {
	summary := newTable().StyleFunc(func(_, col int) lipgloss.Style {
		if col == 0 {
			return rightAlignedStyle
		}
		return normalStyle
	})
	summary.Row("File", path)
	summary.Row("ID", h.ID)
	summary.Row("Format version", fmt.Sprint(h.FormatVersion))
	summary.Row("Model", fmt.Sprintf("%s (%s)", h.ModelName, h.ModelType))
	summary.Row("Created", fmt.Sprintf("%s (%s)", h.CreatedAt.Format("2006-01-02 15:04:05 MST"), humanize.Time(h.CreatedAt)))
	summary.Row("Tensors", humanize.Comma(int64(len(h.Tensors))))
	summary.Row("Parameters", humanize.Comma(int64(countElements(h.Tensors))))
	summary.Row("Payload", humanize.Bytes(uint64(payloadSize)))
	if t := h.Training; t != nil {
		summary.Row("Training step", humanize.Comma(t.Step))
		summary.Row("Loss", fmt.Sprintf("%.5f", t.Loss))
		summary.Row("Optimizer", fmt.Sprintf("%s (lr=%g)", t.Optimizer, t.LearningRate))
		summary.Row("Devices", fmt.Sprint(t.Devices))
	}
	keys := make([]string, 0, len(h.Metadata))
	for k := range h.Metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		summary.Row(k, h.Metadata[k])
	}
	_, _ = fmt.Fprintln(w, summary.Render())

	tensors := newTable().
		Headers("Name", "DType", "Shape", "Params", "Size").
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == lgtable.HeaderRow:
				return headerStyle
			case col >= 3:
				return rightAlignedStyle
			}
			return normalStyle
		})
	for _, t := range h.Tensors {
		tensors.Row(t.Name, t.DType, shapeString(t.Shape),
			humanize.Comma(int64(product(t.Shape))), humanize.Bytes(uint64(t.Size)))
	}
	_, _ = fmt.Fprintln(w, tensors.Render())
}

func countElements(ts []serialization.TensorMeta) int {
	n := 0
	for _, t := range ts {
		n += product(t.Shape)
	}
	return n
}

func product(shape []int) int {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return n
}

func shapeString(shape []int) string {
	dims := make([]string, len(shape))
	for i, d := range shape {
		dims[i] = fmt.Sprint(d)
	}
	return "[" + strings.Join(dims, "×") + "]"
}
