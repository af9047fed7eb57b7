package extract

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"path"
	"strings"

	"gopkg.in/yaml.v3"
)

// csvBlockRows groups this many rows per soft-break block.
const csvBlockRows = 20

// extractJSON re-serializes the document with sorted keys so equal
// content always hashes and chunks identically.
func extractJSON(data []byte, _ string) (Result, error) {
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return Result{}, fmt.Errorf("parse json: %w", err)
	}
	out, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return Result{}, fmt.Errorf("serialize json: %w", err)
	}
	b := newBuilder()
	b.AddBlock(string(out))
	return b.Result(""), nil
}

func extractYAML(data []byte, _ string) (Result, error) {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return Result{}, fmt.Errorf("parse yaml: %w", err)
	}
	out, err := yaml.Marshal(doc)
	if err != nil {
		return Result{}, fmt.Errorf("serialize yaml: %w", err)
	}
	b := newBuilder()
	b.AddBlock(string(out))
	return b.Result(""), nil
}

// extractCSV flattens rows into pipe-joined lines, a block of rows per
// soft break.
func extractCSV(data []byte, filePath string) (Result, error) {
	r := csv.NewReader(bytes.NewReader(normalizeBytes(data)))
	if strings.ToLower(path.Ext(filePath)) == ".tsv" {
		r.Comma = '\t'
	}
	r.FieldsPerRecord = -1
	rows, err := r.ReadAll()
	if err != nil {
		return Result{}, fmt.Errorf("parse csv: %w", err)
	}

	b := newBuilder()
	var block []string
	for _, row := range rows {
		for i, f := range row {
			row[i] = strings.TrimSpace(f)
		}
		line := strings.Join(row, " | ")
		if strings.TrimSpace(line) == "" {
			continue
		}
		block = append(block, line)
		if len(block) >= csvBlockRows {
			b.AddBlock(strings.Join(block, "\n"))
			block = block[:0]
		}
	}
	if len(block) > 0 {
		b.AddBlock(strings.Join(block, "\n"))
	}
	return b.Result(""), nil
}

func normalizeBytes(data []byte) []byte {
	return []byte(normalizeText(data))
}
