package main

import (
	"encoding/json"
	"fmt"
	"os"

	"sitecheck/internal/signature"
)

// loadStrokes reads a stroke file: a JSON array of strokes, each an array
// of {"x", "y"} points in pad units
func loadStrokes(path string) ([][]signature.Point, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read strokes: %w", err)
	}
	var strokes [][]signature.Point
	if err := json.Unmarshal(data, &strokes); err != nil {
		return nil, fmt.Errorf("decode strokes %s: %w", path, err)
	}
	n := 0
	for _, s := range strokes {
		n += len(s)
	}
	if n == 0 {
		return nil, fmt.Errorf("strokes %s: %w", path, signature.ErrEmptyCanvas)
	}
	return strokes, nil
}
