package classifier

import (
	"context"
	"sync"
)

// MockClassifier is a test implementation of Classifier that replays
// scripted outputs. When the script is exhausted the last output repeats.
type MockClassifier struct {
	mu      sync.Mutex
	outputs [][]float64
	err     error
	calls   int
	lengths []int
}

// NewMockClassifier creates a mock that returns outputs in order.
func NewMockClassifier(outputs ...[]float64) *MockClassifier {
	return &MockClassifier{outputs: outputs}
}

// Push appends outputs to the script.
func (m *MockClassifier) Push(outputs ...[]float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outputs = append(m.outputs, outputs...)
}

// SetError makes every following call fail with err. A nil err clears it.
func (m *MockClassifier) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Calls reports how many times Classify has been invoked.
func (m *MockClassifier) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// SequenceLengths reports the sequence length seen by each call.
func (m *MockClassifier) SequenceLengths() []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]int(nil), m.lengths...)
}

// Classify implements Classifier.
func (m *MockClassifier) Classify(ctx context.Context, sequence [][]float64) ([]float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls++
	m.lengths = append(m.lengths, len(sequence))
	if m.err != nil {
		return nil, m.err
	}
	if len(m.outputs) == 0 {
		return nil, nil
	}

	out := m.outputs[0]
	if len(m.outputs) > 1 {
		m.outputs = m.outputs[1:]
	}
	return append([]float64(nil), out...), nil
}
