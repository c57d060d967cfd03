// Package recognizer turns noisy per-frame classifier output into a stable
// stream of recognized signs.
//
// Each session buffers a sliding window of feature vectors. Once enough
// context is buffered, every frame runs the classifier over the window and
// the result must pass two gates before it is surfaced: a confidence and
// margin check on the raw probabilities, and a majority vote over the recent
// top-1 history. A sign is finalized only when it differs from the previous
// finalized sign.
package recognizer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ayusman/mudra/internal/classifier"
	"github.com/ayusman/mudra/internal/session"
)

// Response markers.
const (
	SignPending = "Processing..."
	SignError   = "Error"
)

// DefaultSessionID is used when a caller does not name a session.
const DefaultSessionID = "default"

var (
	// ErrDecode marks a frame that could not be turned into an observation.
	ErrDecode = errors.New("decode frame")
	// ErrDetect marks a hand detector fault on an otherwise valid frame.
	ErrDetect = errors.New("detect hands")
	// ErrInference marks a failed or malformed classifier call.
	ErrInference = errors.New("inference")
)

// Config holds the stabilization parameters.
type Config struct {
	Threshold               float64
	MarginThreshold         float64
	SmoothingWindow         int
	StabilityRatio          float64
	MinSequenceForInference int
	WindowCapacity          int
	SessionMaxAge           time.Duration
	SweepEvery              int
}

// DefaultConfig returns the reference parameters.
func DefaultConfig() Config {
	return Config{
		Threshold:               0.85,
		MarginThreshold:         0.12,
		SmoothingWindow:         8,
		StabilityRatio:          0.7,
		MinSequenceForInference: 20,
		WindowCapacity:          50,
		SessionMaxAge:           30 * time.Minute,
		SweepEvery:              100,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.SmoothingWindow <= 0 {
		c.SmoothingWindow = d.SmoothingWindow
	}
	if c.StabilityRatio <= 0 || c.StabilityRatio > 1 {
		c.StabilityRatio = d.StabilityRatio
	}
	if c.WindowCapacity <= 0 {
		c.WindowCapacity = d.WindowCapacity
	}
	if c.MinSequenceForInference <= 0 {
		c.MinSequenceForInference = d.MinSequenceForInference
	}
	if c.MinSequenceForInference > c.WindowCapacity {
		c.MinSequenceForInference = c.WindowCapacity
	}
	if c.SessionMaxAge <= 0 {
		c.SessionMaxAge = d.SessionMaxAge
	}
	if c.SweepEvery <= 0 {
		c.SweepEvery = d.SweepEvery
	}
	return c
}

// Observation is one decoded frame.
type Observation struct {
	Features    []float64
	HandPresent bool
}

// Decoder turns a raw frame payload into an observation. A malformed payload
// must produce an error. Faults on the server side, such as a crashed hand
// detector, must wrap ErrDetect.
type Decoder interface {
	Decode(ctx context.Context, raw string) (Observation, error)
}

// Kind distinguishes the three possible outcomes of a frame.
type Kind int

const (
	KindPending Kind = iota
	KindDecision
	KindError
)

func (k Kind) String() string {
	switch k {
	case KindDecision:
		return "decision"
	case KindPending:
		return "pending"
	case KindError:
		return "error"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Result is the response for one frame. Finalized is set when this frame
// changed the session's finalized sign.
type Result struct {
	Kind       Kind    `json:"-"`
	Sign       string  `json:"sign"`
	Confidence float64 `json:"confidence"`
	Finalized  bool    `json:"finalized,omitempty"`
	Err        error   `json:"-"`
}

func pending() Result {
	return Result{Kind: KindPending, Sign: SignPending}
}

func failed(err error) Result {
	return Result{Kind: KindError, Sign: SignError, Err: err}
}

// Transition describes a change of a session's finalized sign.
type Transition struct {
	SessionID  string
	From       string
	To         string
	Confidence float64
	At         time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithFinalizeHook registers fn to be called once per finalize event. It
// runs while the session is locked and must not call back into the engine
// for the same session.
func WithFinalizeHook(fn func(Transition)) Option {
	return func(e *Engine) { e.onFinalize = fn }
}

// Engine is the stabilization engine. It is safe for concurrent use.
type Engine struct {
	cfg      Config
	dec      Decoder
	clf      classifier.Classifier
	labels   classifier.Labels
	sessions *session.Store

	// inferMu serializes every decode and classify call process-wide. The
	// detector and model backends are not safe for concurrent invocation.
	inferMu sync.Mutex

	calls      atomic.Uint64
	now        func() time.Time
	logger     *slog.Logger
	onFinalize func(Transition)
}

// New creates an engine. dec may be nil when only Observe is used.
func New(cfg Config, dec Decoder, clf classifier.Classifier, labels classifier.Labels, opts ...Option) *Engine {
	cfg = cfg.withDefaults()
	e := &Engine{
		cfg:      cfg,
		dec:      dec,
		clf:      clf,
		labels:   labels,
		sessions: session.NewStore(cfg.WindowCapacity, cfg.SmoothingWindow),
		now:      time.Now,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Config returns the effective configuration.
func (e *Engine) Config() Config {
	return e.cfg
}

// Labels returns the ordered label set.
func (e *Engine) Labels() classifier.Labels {
	return e.labels
}

// Sessions exposes the session store.
func (e *Engine) Sessions() *session.Store {
	return e.sessions
}

// Finalized returns the current finalized sign of a session.
func (e *Engine) Finalized(sessionID string) (string, bool) {
	s, ok := e.sessions.Get(normalizeID(sessionID))
	if !ok {
		return "", false
	}
	s.Lock()
	defer s.Unlock()
	return s.Finalized()
}

// Sweep removes expired sessions and returns how many were dropped.
func (e *Engine) Sweep() int {
	n := e.sessions.Expire(e.now(), e.cfg.SessionMaxAge)
	if n > 0 {
		e.logger.Debug("expired sessions", "removed", n, "remaining", e.sessions.Len())
	}
	return n
}

func (e *Engine) maybeSweep() {
	if e.calls.Add(1)%uint64(e.cfg.SweepEvery) == 0 {
		e.Sweep()
	}
}

// Predict decodes raw and runs it through the session's stabilizer. A
// decode or detection failure leaves the session untouched.
func (e *Engine) Predict(ctx context.Context, raw, sessionID string) Result {
	if e.dec == nil {
		return failed(fmt.Errorf("%w: no decoder configured", ErrDetect))
	}

	e.inferMu.Lock()
	obs, err := e.dec.Decode(ctx, raw)
	e.inferMu.Unlock()
	if errors.Is(err, ErrDetect) {
		e.logger.Warn("hand detection failed", "session", normalizeID(sessionID), "error", err)
		return failed(err)
	}
	if err != nil {
		e.logger.Debug("frame decode failed", "session", normalizeID(sessionID), "error", err)
		return failed(fmt.Errorf("%w: %w", ErrDecode, err))
	}

	return e.Observe(ctx, sessionID, obs)
}

// Observe runs one decoded frame through the session's stabilizer.
func (e *Engine) Observe(ctx context.Context, sessionID string, obs Observation) Result {
	id := normalizeID(sessionID)

	if obs.HandPresent && len(obs.Features) == 0 {
		return failed(fmt.Errorf("%w: hand present without features", ErrDecode))
	}

	s := e.sessions.GetOrCreate(id, e.now())
	e.maybeSweep()

	s.Lock()
	defer s.Unlock()
	defer s.ClearExtraFinalized()

	if !obs.HandPresent {
		s.ClearVotes()
		return pending()
	}

	s.Append(obs.Features)
	if s.WindowLen() < e.cfg.MinSequenceForInference {
		return pending()
	}

	probs, err := e.classify(ctx, s.Window())
	if err != nil {
		e.logger.Warn("inference failed", "session", id, "error", err)
		return failed(fmt.Errorf("%w: %w", ErrInference, err))
	}

	top, _, _ := topTwo(probs)
	s.RecordVote(top)

	d := decide(e.cfg, probs, s.Votes())
	if !d.accepted() {
		return pending()
	}

	label := e.labels[d.top]
	res := Result{
		Kind:       KindDecision,
		Sign:       label,
		Confidence: roundConfidence(d.topProb),
	}

	prev, had := s.Finalized()
	if !had || prev != label {
		s.SetFinalized(label)
		res.Finalized = true
		e.logger.Info("sign finalized", "session", id, "sign", label, "previous", prev, "confidence", res.Confidence)
		if e.onFinalize != nil {
			e.onFinalize(Transition{
				SessionID:  id,
				From:       prev,
				To:         label,
				Confidence: res.Confidence,
				At:         e.now(),
			})
		}
	}
	return res
}

func (e *Engine) classify(ctx context.Context, seq [][]float64) ([]float64, error) {
	e.inferMu.Lock()
	defer e.inferMu.Unlock()

	probs, err := e.clf.Classify(ctx, seq)
	if err != nil {
		return nil, err
	}
	if err := classifier.CheckOutput(probs, len(e.labels)); err != nil {
		return nil, err
	}
	return probs, nil
}

func normalizeID(id string) string {
	if id == "" {
		return DefaultSessionID
	}
	return id
}
