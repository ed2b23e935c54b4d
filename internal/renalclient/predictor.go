package renalclient

import (
	"context"
	"sync"
	"time"

	"github.com/renalsim/renalsim/internal/domain/copilot"
	"github.com/renalsim/renalsim/internal/domain/riskmodel"
)

// DefaultDebounce collapses rapid lever toggles into one prediction request.
const DefaultDebounce = time.Second

// PredictFunc performs one prediction call. Client.Predict satisfies it.
type PredictFunc func(ctx context.Context, pc copilot.PatientContext, levers riskmodel.LeverState) (*riskmodel.Prediction, error)

// PredictionResult is delivered for the latest request only.
type PredictionResult struct {
	Generation uint64
	Levers     riskmodel.LeverState
	Prediction *riskmodel.Prediction
	Err        error
}

// Predictor debounces prediction requests. Each Request bumps a generation
// counter, cancels the in-flight call of the previous generation and
// restarts the debounce timer. A response is delivered only when its
// generation is still the latest, so results never arrive out of order.
type Predictor struct {
	predict PredictFunc
	delay   time.Duration

	mu      sync.Mutex
	gen     uint64
	timer   *time.Timer
	cancel  context.CancelFunc
	closed  bool
	results chan PredictionResult
}

// NewPredictor creates a Predictor. A non-positive delay uses DefaultDebounce.
func NewPredictor(fn PredictFunc, delay time.Duration) *Predictor {
	if delay <= 0 {
		delay = DefaultDebounce
	}
	return &Predictor{
		predict: fn,
		delay:   delay,
		results: make(chan PredictionResult, 1),
	}
}

// Results yields predictions. Only the newest undelivered result is kept.
func (p *Predictor) Results() <-chan PredictionResult {
	return p.results
}

// Generation returns the generation of the latest request.
func (p *Predictor) Generation() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.gen
}

// Request schedules a prediction for levers and returns its generation.
func (p *Predictor) Request(pc copilot.PatientContext, levers riskmodel.LeverState) uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return p.gen
	}

	p.gen++
	gen := p.gen
	p.supersede()
	p.timer = time.AfterFunc(p.delay, func() { p.run(gen, pc, levers) })
	return gen
}

// Cancel drops the pending request, aborts the in-flight call and discards
// any unread result. Later responses of earlier generations are ignored.
func (p *Predictor) Cancel() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.gen++
	p.supersede()
	select {
	case <-p.results:
	default:
	}
}

// supersede stops the pending timer and aborts the in-flight call.
// Callers hold p.mu.
func (p *Predictor) supersede() {
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
}

func (p *Predictor) run(gen uint64, pc copilot.PatientContext, levers riskmodel.LeverState) {
	p.mu.Lock()
	if p.closed || gen != p.gen {
		p.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.mu.Unlock()

	pred, err := p.predict(ctx, pc, levers)
	cancel()

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed || gen != p.gen {
		return
	}
	p.cancel = nil
	p.deliver(PredictionResult{Generation: gen, Levers: levers, Prediction: pred, Err: err})
}

// deliver replaces any unread result. Callers hold p.mu.
func (p *Predictor) deliver(r PredictionResult) {
	select {
	case <-p.results:
	default:
	}
	p.results <- r
}

// Close aborts pending work and closes Results.
func (p *Predictor) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	p.supersede()
	close(p.results)
}
