// Package mock provides a scriptable in-memory asr.Provider for tests.
package mock

import (
	"context"
	"sync"

	"github.com/fablespeak/fablespeak/pkg/asr"
)

// Call records one Transcribe invocation received by the mock.
type Call struct {
	AudioLen     int
	LanguageHint string
}

// Provider implements asr.Provider with scripted responses. The zero value is
// not usable; create instances with [New]. Safe for concurrent use.
type Provider struct {
	name string

	mu      sync.Mutex
	results []result
	next    int
	calls   []Call
}

type result struct {
	res asr.Result
	err error
}

// New creates a mock provider registered under name with no scripted results.
// A call with nothing scripted returns an empty successful Result.
func New(name string) *Provider {
	return &Provider{name: name}
}

// Name implements asr.Provider.
func (p *Provider) Name() string { return p.name }

// QueueResult appends a successful scripted result. Results are consumed in
// FIFO order; the last scripted entry repeats once the queue is exhausted.
func (p *Provider) QueueResult(res asr.Result) {
	p.mu.Lock()
	defer p.mu.Unlock()
	res.Provider = p.name
	p.results = append(p.results, result{res: res})
}

// QueueError appends a scripted failure.
func (p *Provider) QueueError(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.results = append(p.results, result{err: err})
}

// Calls returns a copy of all recorded invocations.
func (p *Provider) Calls() []Call {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Call, len(p.calls))
	copy(out, p.calls)
	return out
}

// Transcribe implements asr.Provider by replaying scripted results.
func (p *Provider) Transcribe(ctx context.Context, req asr.Request) (asr.Result, error) {
	if err := ctx.Err(); err != nil {
		return asr.Result{}, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.calls = append(p.calls, Call{
		AudioLen:     len(req.Audio),
		LanguageHint: req.LanguageHint,
	})

	if len(p.results) == 0 {
		return asr.Result{Provider: p.name, LanguageHint: req.LanguageHint}, nil
	}

	r := p.results[p.next]
	if p.next < len(p.results)-1 {
		p.next++
	}
	if r.err != nil {
		return asr.Result{}, r.err
	}
	res := r.res
	if res.LanguageHint == "" {
		res.LanguageHint = req.LanguageHint
	}
	res.AudioDuration = asr.PCMDuration(len(req.Audio), req.SampleRate)
	return res, nil
}

// Compile-time interface assertion.
var _ asr.Provider = (*Provider)(nil)
