package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/mattn/go-isatty"
)

// jsonOutput reports whether results are written as JSON: always when
// asked, and by default when stdout is not a terminal.
func (a *app) jsonOutput() bool {
	if a.asJSON {
		return true
	}
	if a.asText {
		return false
	}
	f, ok := a.out.(*os.File)
	if !ok {
		return false
	}
	return !isatty.IsTerminal(f.Fd()) && !isatty.IsCygwinTerminal(f.Fd())
}

func (a *app) writeJSON(v any) error {
	return writeIndentedJSON(a.out, v)
}

func (a *app) printf(format string, args ...any) {
	fmt.Fprintf(a.out, format, args...)
}

func count(n int) string {
	return humanize.Comma(int64(n))
}

// since renders a stored run timestamp relative to now.
func since(ts string) string {
	t, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return ts
	}
	return strings.ReplaceAll(humanize.Time(t), " ", "_")
}

func writeFileJSON(path string, v any) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return writeIndentedJSON(f, v)
}

func writeIndentedJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
