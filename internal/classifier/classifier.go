// Package classifier maps buffered feature sequences to probability
// distributions over a fixed, ordered label set.
package classifier

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"strings"
)

// ErrMalformedOutput is returned when a classifier produces a probability
// vector that does not match the label set.
var ErrMalformedOutput = errors.New("malformed classifier output")

// Classifier maps a sequence of feature vectors (oldest first, any length up
// to the window capacity) to one probability per label. Implementations must
// be deterministic for identical input and must not retain or modify the
// sequence. They are not assumed to be safe for concurrent use.
type Classifier interface {
	Classify(ctx context.Context, sequence [][]float64) ([]float64, error)
}

// Labels is the ordered label set. Index i of a probability vector
// corresponds to Labels[i].
type Labels []string

// DefaultLabels returns the fingerspelling alphabet A through Z.
func DefaultLabels() Labels {
	labels := make(Labels, 0, 26)
	for c := 'A'; c <= 'Z'; c++ {
		labels = append(labels, string(c))
	}
	return labels
}

// Index returns the position of label, or -1 when it is not in the set.
func (l Labels) Index(label string) int {
	for i, v := range l {
		if v == label {
			return i
		}
	}
	return -1
}

// LoadLabels reads one label per line. Blank lines and lines starting with
// '#' are ignored. Duplicate labels are rejected.
func LoadLabels(path string) (Labels, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening labels file: %w", err)
	}
	defer f.Close()

	var labels Labels
	seen := make(map[string]bool)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if seen[line] {
			return nil, fmt.Errorf("duplicate label %q", line)
		}
		seen[line] = true
		labels = append(labels, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading labels file: %w", err)
	}
	if len(labels) == 0 {
		return nil, fmt.Errorf("labels file %s is empty", path)
	}
	return labels, nil
}

// CheckOutput verifies that probs has one finite, non-negative value per label.
func CheckOutput(probs []float64, numLabels int) error {
	if len(probs) != numLabels {
		return fmt.Errorf("%w: got %d values for %d labels", ErrMalformedOutput, len(probs), numLabels)
	}
	for i, p := range probs {
		if math.IsNaN(p) || math.IsInf(p, 0) || p < 0 {
			return fmt.Errorf("%w: value %d is %v", ErrMalformedOutput, i, p)
		}
	}
	return nil
}
