// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package datasets

import (
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"

	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// LoadCSV reads a CSV file with a header line, where the column named labelColumn holds the class of each
// example and all the other columns are numeric features.
//
// Label values are read as strings and mapped to integers in sorted order; their names are available
// in InMemoryDataset.ClassNames.
func LoadCSV(filePath, labelColumn string) (*InMemoryDataset, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open CSV file %q", filePath)
	}
	defer func() { _ = f.Close() }()
	mds, err := ReadCSV(f, labelColumn)
	if err != nil {
		return nil, errors.WithMessagef(err, "LoadCSV(%q)", filePath)
	}
	mds.SetName(filepath.Base(filePath))
	return mds, nil
}

// ReadCSV is like LoadCSV, but reads the CSV contents from r.
func ReadCSV(r io.Reader, labelColumn string) (*InMemoryDataset, error) {
	df := dataframe.ReadCSV(r, dataframe.HasHeader(true),
		dataframe.WithTypes(map[string]series.Type{labelColumn: series.String}))
	if df.Err != nil {
		return nil, errors.Wrap(df.Err, "failed to parse CSV")
	}
	names := df.Names()
	labelIdx := -1
	for ii, name := range names {
		if name == labelColumn {
			labelIdx = ii
		}
	}
	if labelIdx < 0 {
		return nil, errors.Errorf("label column %q not found in CSV columns %q", labelColumn, names)
	}
	if len(names) < 2 {
		return nil, errors.Errorf("CSV has no feature columns besides the label column %q", labelColumn)
	}

	// Vocabulary of labels, sorted so the values are always the same.
	vocabulary := make(map[string]int)
	var classNames []string
	for _, value := range df.Col(labelColumn).Records() {
		if _, found := vocabulary[value]; !found {
			vocabulary[value] = 0
			classNames = append(classNames, value)
		}
	}
	sort.Strings(classNames)
	for ii, value := range classNames {
		vocabulary[value] = ii
	}

	numRows := df.Nrow()
	inputs := make([][]float64, numRows)
	for rowNum := range inputs {
		inputs[rowNum] = make([]float64, 0, len(names)-1)
	}
	for _, name := range names {
		if name == labelColumn {
			continue
		}
		col := df.Col(name)
		if col.Type() != series.Float && col.Type() != series.Int {
			return nil, errors.Errorf("CSV feature column %q is not numeric (type %s)", name, col.Type())
		}
		for rowNum, value := range col.Float() {
			if math.IsNaN(value) {
				return nil, errors.Errorf("CSV feature column %q has a missing value in row %d", name, rowNum)
			}
			inputs[rowNum] = append(inputs[rowNum], value)
		}
	}
	labels := make([]int, numRows)
	for rowNum, value := range df.Col(labelColumn).Records() {
		labels[rowNum] = vocabulary[value]
	}
	klog.V(1).Infof("read CSV with %d examples, %d features and %d classes", numRows, len(names)-1, len(classNames))
	mds, err := InMemory("csv", inputs, labels)
	if err != nil {
		return nil, err
	}
	return mds.WithClassNames(classNames), nil
}
