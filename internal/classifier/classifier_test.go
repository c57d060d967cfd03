package classifier

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultLabels(t *testing.T) {
	labels := DefaultLabels()

	if len(labels) != 26 {
		t.Fatalf("expected 26 labels, got %d", len(labels))
	}
	if labels[0] != "A" || labels[25] != "Z" {
		t.Errorf("expected A..Z, got %s..%s", labels[0], labels[25])
	}
	if labels.Index("C") != 2 {
		t.Errorf("expected index 2 for C, got %d", labels.Index("C"))
	}
	if labels.Index("hello") != -1 {
		t.Errorf("expected -1 for unknown label")
	}
}

func TestLoadLabels(t *testing.T) {
	dir := t.TempDir()

	t.Run("skips comments and blank lines", func(t *testing.T) {
		path := filepath.Join(dir, "labels.txt")
		content := "# signs\nhello\n\nthanks\n  yes  \n"
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			t.Fatal(err)
		}

		labels, err := LoadLabels(path)
		if err != nil {
			t.Fatalf("LoadLabels: %v", err)
		}
		want := Labels{"hello", "thanks", "yes"}
		if len(labels) != len(want) {
			t.Fatalf("expected %v, got %v", want, labels)
		}
		for i := range want {
			if labels[i] != want[i] {
				t.Errorf("label %d: expected %q, got %q", i, want[i], labels[i])
			}
		}
	})

	t.Run("rejects duplicates", func(t *testing.T) {
		path := filepath.Join(dir, "dup.txt")
		os.WriteFile(path, []byte("a\nb\na\n"), 0644)

		if _, err := LoadLabels(path); err == nil {
			t.Error("expected error for duplicate label")
		}
	})

	t.Run("rejects empty file", func(t *testing.T) {
		path := filepath.Join(dir, "empty.txt")
		os.WriteFile(path, []byte("# nothing\n"), 0644)

		if _, err := LoadLabels(path); err == nil {
			t.Error("expected error for empty label set")
		}
	})

	t.Run("missing file", func(t *testing.T) {
		if _, err := LoadLabels(filepath.Join(dir, "nope.txt")); err == nil {
			t.Error("expected error for missing file")
		}
	})
}

func TestCheckOutput(t *testing.T) {
	tests := []struct {
		name    string
		probs   []float64
		n       int
		wantErr bool
	}{
		{"valid", []float64{0.2, 0.8}, 2, false},
		{"wrong length", []float64{1}, 2, true},
		{"nil", nil, 3, true},
		{"nan", []float64{math.NaN(), 1}, 2, true},
		{"inf", []float64{math.Inf(1), 0}, 2, true},
		{"negative", []float64{-0.1, 1.1}, 2, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckOutput(tt.probs, tt.n)
			if (err != nil) != tt.wantErr {
				t.Fatalf("CheckOutput() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrMalformedOutput) {
				t.Errorf("expected ErrMalformedOutput, got %v", err)
			}
		})
	}
}

func TestHTTPClassifier_Classify(t *testing.T) {
	var gotPath string
	var gotReq predictReq
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			http.Error(w, "bad json", http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(predictResp{Predictions: [][]float64{{0.9, 0.05, 0.05}}})
	}))
	defer srv.Close()

	c := NewHTTPClassifier(srv.URL+"/", "signs", 3, time.Second)
	seq := [][]float64{{1, 2, 3}, {4, 5, 6}}

	probs, err := c.Classify(context.Background(), seq)
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}

	if gotPath != "/v1/models/signs:predict" {
		t.Errorf("unexpected path %q", gotPath)
	}
	if len(gotReq.Instances) != 1 || len(gotReq.Instances[0]) != 2 {
		t.Errorf("expected one instance of two frames, got %v", gotReq.Instances)
	}
	if len(probs) != 3 || probs[0] != 0.9 {
		t.Errorf("unexpected probabilities %v", probs)
	}
}

func TestHTTPClassifier_Errors(t *testing.T) {
	tests := []struct {
		name      string
		handler   http.HandlerFunc
		malformed bool
	}{
		{
			name: "server error",
			handler: func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "model not loaded", http.StatusServiceUnavailable)
			},
		},
		{
			name: "wrong label count",
			handler: func(w http.ResponseWriter, r *http.Request) {
				json.NewEncoder(w).Encode(predictResp{Predictions: [][]float64{{0.5, 0.5}}})
			},
			malformed: true,
		},
		{
			name: "no predictions",
			handler: func(w http.ResponseWriter, r *http.Request) {
				json.NewEncoder(w).Encode(predictResp{})
			},
			malformed: true,
		},
		{
			name: "error field",
			handler: func(w http.ResponseWriter, r *http.Request) {
				json.NewEncoder(w).Encode(predictResp{Error: "shape mismatch"})
			},
		},
		{
			name: "invalid json",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte("{"))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			c := NewHTTPClassifier(srv.URL, "signs", 3, time.Second)
			_, err := c.Classify(context.Background(), [][]float64{{1}})
			if err == nil {
				t.Fatal("expected an error")
			}
			if tt.malformed && !errors.Is(err, ErrMalformedOutput) {
				t.Errorf("expected ErrMalformedOutput, got %v", err)
			}
		})
	}

	t.Run("empty sequence", func(t *testing.T) {
		c := NewHTTPClassifier("http://127.0.0.1:0", "signs", 3, time.Second)
		if _, err := c.Classify(context.Background(), nil); err == nil {
			t.Error("expected error for empty sequence")
		}
	})
}

func constSeq(n int, v float64) [][]float64 {
	seq := make([][]float64, n)
	for i := range seq {
		seq[i] = []float64{v, v, v}
	}
	return seq
}

func TestDTWDistance(t *testing.T) {
	t.Run("identical sequences", func(t *testing.T) {
		a := constSeq(5, 1)
		if d := DTWDistance(a, a); d != 0 {
			t.Errorf("expected 0, got %f", d)
		}
	})

	t.Run("speed invariant", func(t *testing.T) {
		slow := [][]float64{{0}, {0}, {1}, {1}, {2}, {2}}
		fast := [][]float64{{0}, {1}, {2}}
		if d := DTWDistance(slow, fast); d > 1e-9 {
			t.Errorf("expected 0 for time-stretched sequence, got %f", d)
		}
	})

	t.Run("different sequences", func(t *testing.T) {
		d := DTWDistance(constSeq(3, 0), constSeq(3, 1))
		if math.Abs(d-math.Sqrt(3)) > 1e-9 {
			t.Errorf("expected sqrt(3), got %f", d)
		}
	})

	t.Run("empty", func(t *testing.T) {
		if !math.IsInf(DTWDistance(nil, constSeq(1, 0)), 1) {
			t.Error("expected +Inf for empty input")
		}
	})
}

func TestTemplateClassifier(t *testing.T) {
	labels := Labels{"A", "B", "C"}
	c := NewTemplateClassifier(labels, 0.5)

	t.Run("no templates", func(t *testing.T) {
		if _, err := c.Classify(context.Background(), constSeq(2, 0)); !errors.Is(err, ErrNoTemplates) {
			t.Errorf("expected ErrNoTemplates, got %v", err)
		}
	})

	err := c.SetTemplates([]Template{
		{ID: "a1", Label: "A", Frames: constSeq(4, 0)},
		{ID: "b1", Label: "B", Frames: constSeq(4, 1)},
		{ID: "b2", Label: "B", Frames: constSeq(4, 5)},
	})
	if err != nil {
		t.Fatalf("SetTemplates: %v", err)
	}

	t.Run("closest label wins", func(t *testing.T) {
		probs, err := c.Classify(context.Background(), constSeq(6, 0.9))
		if err != nil {
			t.Fatalf("Classify: %v", err)
		}
		if err := CheckOutput(probs, len(labels)); err != nil {
			t.Fatal(err)
		}
		if probs[1] <= probs[0] {
			t.Errorf("expected B to beat A, got %v", probs)
		}
		if probs[2] != 0 {
			t.Errorf("label without templates should have zero probability, got %f", probs[2])
		}
		if sum := probs[0] + probs[1] + probs[2]; math.Abs(sum-1) > 1e-9 {
			t.Errorf("probabilities should sum to 1, got %f", sum)
		}
	})

	t.Run("deterministic", func(t *testing.T) {
		p1, _ := c.Classify(context.Background(), constSeq(3, 0.2))
		p2, _ := c.Classify(context.Background(), constSeq(3, 0.2))
		for i := range p1 {
			if p1[i] != p2[i] {
				t.Fatalf("outputs differ: %v vs %v", p1, p2)
			}
		}
	})

	t.Run("rejects unknown label", func(t *testing.T) {
		err := c.SetTemplates([]Template{{ID: "z", Label: "Z", Frames: constSeq(1, 0)}})
		if err == nil {
			t.Error("expected error for unknown label")
		}
		if c.Len() != 3 {
			t.Errorf("failed update should keep previous templates, got %d", c.Len())
		}
	})

	t.Run("rejects empty frames", func(t *testing.T) {
		if err := c.SetTemplates([]Template{{ID: "e", Label: "A"}}); err == nil {
			t.Error("expected error for template without frames")
		}
	})
}

func TestMockClassifier(t *testing.T) {
	m := NewMockClassifier([]float64{1, 0}, []float64{0, 1})
	ctx := context.Background()

	first, _ := m.Classify(ctx, constSeq(2, 0))
	second, _ := m.Classify(ctx, constSeq(3, 0))
	third, _ := m.Classify(ctx, constSeq(4, 0))

	if first[0] != 1 || second[1] != 1 || third[1] != 1 {
		t.Errorf("unexpected script replay: %v %v %v", first, second, third)
	}
	if m.Calls() != 3 {
		t.Errorf("expected 3 calls, got %d", m.Calls())
	}
	if l := m.SequenceLengths(); len(l) != 3 || l[2] != 4 {
		t.Errorf("unexpected sequence lengths %v", l)
	}

	boom := errors.New("boom")
	m.SetError(boom)
	if _, err := m.Classify(ctx, nil); !errors.Is(err, boom) {
		t.Errorf("expected scripted error, got %v", err)
	}
}
