package render

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/Sumatoshi-tech/parstat/pkg/model"
)

// Diff writes a line diff of the terminal renderings of two models and returns the
// number of inserted plus deleted lines.
func Diff(w io.Writer, before, after *model.Model, o Options) (int, error) {
	plain := Options{MaxRows: o.MaxRows, NoColor: true}

	var a, b bytes.Buffer

	err := Model(&a, before, plain)
	if err != nil {
		return 0, err
	}

	err = Model(&b, after, plain)
	if err != nil {
		return 0, err
	}

	dmp := diffmatchpatch.New()
	src, dst, lines := dmp.DiffLinesToRunes(a.String(), b.String())
	diffs := dmp.DiffCharsToLines(dmp.DiffMainRunes(src, dst, false), lines)

	removed, added := color.New(color.FgRed), color.New(color.FgGreen)
	if o.NoColor {
		removed.DisableColor()
		added.DisableColor()
	}

	changed := 0

	for _, d := range diffs {
		prefix, c := "  ", (*color.Color)(nil)

		switch d.Type {
		case diffmatchpatch.DiffDelete:
			prefix, c = "- ", removed
		case diffmatchpatch.DiffInsert:
			prefix, c = "+ ", added
		case diffmatchpatch.DiffEqual:
		}

		for _, line := range strings.SplitAfter(d.Text, "\n") {
			if line == "" {
				continue
			}

			if c != nil {
				changed++
				_, err = c.Fprint(w, prefix+line)
			} else {
				_, err = fmt.Fprint(w, prefix+line)
			}

			if err != nil {
				return changed, err
			}
		}
	}

	return changed, nil
}
