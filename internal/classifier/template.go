package classifier

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
)

// ErrNoTemplates is returned by TemplateClassifier when no reference
// sequences are loaded.
var ErrNoTemplates = errors.New("no templates loaded")

// DefaultTemperature controls how sharply distances are turned into probabilities.
const DefaultTemperature = 0.5

// Template is a recorded reference sequence for one label.
type Template struct {
	ID     string
	Label  string
	Frames [][]float64
}

// TemplateClassifier scores the input sequence against reference sequences
// with dynamic time warping. The best (smallest) distance per label is
// converted into a probability with a softmax over -distance/temperature.
// Labels without any template get probability zero.
type TemplateClassifier struct {
	labels      Labels
	temperature float64

	mu        sync.RWMutex
	templates []Template
}

// NewTemplateClassifier creates an empty classifier over labels.
func NewTemplateClassifier(labels Labels, temperature float64) *TemplateClassifier {
	if temperature <= 0 {
		temperature = DefaultTemperature
	}
	return &TemplateClassifier{labels: labels, temperature: temperature}
}

// SetTemplates replaces the reference set. Templates whose label is not in
// the label set or that have no frames are rejected.
func (c *TemplateClassifier) SetTemplates(templates []Template) error {
	for _, t := range templates {
		if c.labels.Index(t.Label) < 0 {
			return fmt.Errorf("template %s: unknown label %q", t.ID, t.Label)
		}
		if len(t.Frames) == 0 {
			return fmt.Errorf("template %s: no frames", t.ID)
		}
	}

	copied := make([]Template, len(templates))
	copy(copied, templates)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.templates = copied
	return nil
}

// Len returns the number of loaded templates.
func (c *TemplateClassifier) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.templates)
}

// Classify implements Classifier.
func (c *TemplateClassifier) Classify(ctx context.Context, sequence [][]float64) ([]float64, error) {
	if len(sequence) == 0 {
		return nil, fmt.Errorf("classify: empty sequence")
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	if len(c.templates) == 0 {
		return nil, ErrNoTemplates
	}

	best := make([]float64, len(c.labels))
	for i := range best {
		best[i] = math.Inf(1)
	}

	for _, t := range c.templates {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		idx := c.labels.Index(t.Label)
		d := DTWDistance(sequence, t.Frames)
		if d < best[idx] {
			best[idx] = d
		}
	}

	return softmin(best, c.temperature), nil
}

// softmin converts distances into probabilities. Infinite distances map to 0.
func softmin(distances []float64, temperature float64) []float64 {
	probs := make([]float64, len(distances))

	minDist := math.Inf(1)
	for _, d := range distances {
		if d < minDist {
			minDist = d
		}
	}
	if math.IsInf(minDist, 1) {
		return probs
	}

	var sum float64
	for i, d := range distances {
		if math.IsInf(d, 1) {
			continue
		}
		// Shift by the minimum so the exponent never overflows.
		probs[i] = math.Exp(-(d - minDist) / temperature)
		sum += probs[i]
	}
	for i := range probs {
		probs[i] /= sum
	}
	return probs
}

// DTWDistance calculates the dynamic time warping distance between two
// sequences of feature vectors, normalized by the longer sequence length.
// Returns +Inf if either sequence is empty.
func DTWDistance(a, b [][]float64) float64 {
	n := len(a)
	m := len(b)

	if n == 0 || m == 0 {
		return math.Inf(1)
	}

	// Two rolling rows of the (n+1) x (m+1) cost matrix.
	prev := make([]float64, m+1)
	curr := make([]float64, m+1)
	for j := range prev {
		prev[j] = math.Inf(1)
	}
	prev[0] = 0

	for i := 1; i <= n; i++ {
		curr[0] = math.Inf(1)
		for j := 1; j <= m; j++ {
			cost := vectorDistance(a[i-1], b[j-1])
			curr[j] = cost + min(prev[j], curr[j-1], prev[j-1])
		}
		prev, curr = curr, prev
	}

	return prev[m] / float64(max(n, m))
}

// vectorDistance is the Euclidean distance over the common prefix of a and b.
func vectorDistance(a, b []float64) float64 {
	n := min(len(a), len(b))

	var sum float64
	for i := 0; i < n; i++ {
		d := a[i] - b[i]
		sum += d * d
	}
	return math.Sqrt(sum)
}
