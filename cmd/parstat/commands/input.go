package commands

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/Sumatoshi-tech/parstat/pkg/model"
	"github.com/Sumatoshi-tech/parstat/pkg/modelstore"
	"github.com/Sumatoshi-tech/parstat/pkg/persist"
	"github.com/Sumatoshi-tech/parstat/pkg/stats"
	"github.com/Sumatoshi-tech/parstat/pkg/stats/catalog"
	"github.com/Sumatoshi-tech/parstat/pkg/table"
)

const requestSeparator = ","

var (
	// ErrNoInput is returned when a data command runs without --input.
	ErrNoInput = errors.New("input CSV is required (use --input)")
	// ErrNoEstimator is returned when neither --estimator nor the config names one.
	ErrNoEstimator = errors.New("estimator is required (use --estimator or the estimator config key)")
	// ErrNoRequests is returned when no request can be built for the data.
	ErrNoRequests = errors.New("no requests: name columns with --request")
	// ErrNoStore is returned when a store model is referenced without a store directory.
	ErrNoStore = errors.New("model store directory is required (use --store or store.dir)")
)

func readTable(path string) (*table.Table, error) {
	if path == "" {
		return nil, ErrNoInput
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open input: %w", err)
	}
	defer f.Close()

	t, err := table.ReadCSV(f)
	if err != nil {
		return nil, fmt.Errorf("input %s: %w", path, err)
	}

	return t, nil
}

// parseRequests splits "a,b" flag values into requests.
func parseRequests(raw []string) [][]string {
	out := make([][]string, 0, len(raw))

	for _, r := range raw {
		var cols []string

		for c := range strings.SplitSeq(r, requestSeparator) {
			if c = strings.TrimSpace(c); c != "" {
				cols = append(cols, c)
			}
		}

		if len(cols) > 0 {
			out = append(out, cols)
		}
	}

	return out
}

// buildRequests registers the explicit requests, or derives defaults from the data
// columns and the estimator arity: one request per column, one per column pair, or a
// single request over every numeric column.
func buildRequests(estimator string, explicit [][]string, data *table.Table) ([]stats.Request, error) {
	var set stats.RequestSet

	for _, cols := range explicit {
		set.AddRequest(cols...)
	}

	if set.Len() == 0 {
		desc, _ := catalog.Lookup(estimator)
		names := data.ColumnNames()

		switch desc.Arity {
		case 1:
			for _, name := range names {
				set.AddColumn(name)
			}
		case 2:
			for i := range names {
				for j := i + 1; j < len(names); j++ {
					set.AddColumnPair(names[i], names[j])
				}
			}
		default:
			var numeric []string

			for _, col := range data.Columns() {
				if col.Kind() == table.KindNumeric {
					numeric = append(numeric, col.Name())
				}
			}

			set.AddRequest(numeric...)
		}
	}

	if set.Len() == 0 {
		return nil, ErrNoRequests
	}

	return set.Requests(), nil
}

// isModelFile reports whether ref names a model file rather than a stored model.
func isModelFile(ref string) bool {
	_, err := persist.CodecFor(ref)

	return err == nil
}

// loadModel reads a model from a file, or from the store when ref has no model file
// extension.
func loadModel(ref, storeDir string) (*model.Model, error) {
	if isModelFile(ref) {
		return persist.LoadModel(ref)
	}

	store, err := openStore(storeDir)
	if err != nil {
		return nil, err
	}
	defer store.Close()

	return store.Get(ref)
}

// saveModel writes m to a file, or into the store when ref has no model file extension.
func saveModel(ref, storeDir string, m *model.Model) error {
	if isModelFile(ref) {
		return persist.SaveModel(ref, m)
	}

	store, err := openStore(storeDir)
	if err != nil {
		return err
	}
	defer store.Close()

	return store.Put(ref, m)
}

func openStore(dir string) (*modelstore.Store, error) {
	if dir == "" {
		return nil, ErrNoStore
	}

	return modelstore.Open(modelstore.Config{Path: dir})
}

// concatRows stacks per-worker tables with identical columns.
func concatRows(parts []*table.Table) (*table.Table, error) {
	var out *table.Table

	for _, p := range parts {
		if p == nil {
			continue
		}

		if out == nil {
			out = p.Clone()

			continue
		}

		for i := range p.NumRows() {
			err := out.AppendRow(p.Row(i)...)
			if err != nil {
				return nil, fmt.Errorf("merge worker output: %w", err)
			}
		}
	}

	return out, nil
}
