package esi

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"
)

type FailureKind string

const (
	FailureScan           FailureKind = "scan"
	FailureConfig         FailureKind = "config"
	FailureFetch          FailureKind = "fetch"
	FailureRecursionLimit FailureKind = "recursion_limit"
)

// Failure is a directive-local problem. It never fails the call.
type Failure struct {
	Kind  FailureKind
	Src   string
	Depth int
	Err   error
}

func (f Failure) String() string {
	if f.Src == "" {
		return fmt.Sprintf("%s depth=%d: %v", f.Kind, f.Depth, f.Err)
	}
	return fmt.Sprintf("%s src=%s depth=%d: %v", f.Kind, f.Src, f.Depth, f.Err)
}

type Result struct {
	Text string
	// Directives counts include and vars directives processed at every depth.
	Directives   int
	Failures     []Failure
	DepthLimited bool
}

// Completion receives the outcome of a call: a non-nil err, or the final text.
type Completion func(err error, text string)

type Outcome struct {
	Result *Result
	Err    error
}

// Engine is stateless; one value may serve any number of concurrent calls.
type Engine struct {
	Fetcher FragmentFetcher
}

func NewEngine(f FragmentFetcher) *Engine {
	return &Engine{Fetcher: f}
}

// Substitute resolves every directive in body. The returned error is non-nil
// only when ctx ends before resolution completes; partial text is discarded.
func (e *Engine) Substitute(ctx context.Context, body string, opts EffectiveOptions) (*Result, error) {
	if opts.MaxDepth <= 0 {
		opts.MaxDepth = DefaultMaxDepth
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("esi: resolution aborted: %w", err)
	}
	p := e.resolve(ctx, body, opts, 0, false)
	if p.err != nil {
		return nil, fmt.Errorf("esi: resolution aborted: %w", p.err)
	}
	return &Result{
		Text:         p.text,
		Directives:   p.directives,
		Failures:     p.failures,
		DepthLimited: p.depthLimited,
	}, nil
}

// SubstituteBytes decodes body as UTF-8 and resolves it. Invalid UTF-8 fails with ErrDecode.
func (e *Engine) SubstituteBytes(ctx context.Context, body []byte, opts EffectiveOptions) (*Result, error) {
	if !utf8.Valid(body) {
		return nil, ErrDecode
	}
	return e.Substitute(ctx, string(body), opts)
}

// Resolve runs SubstituteBytes and reports through done.
func (e *Engine) Resolve(ctx context.Context, body []byte, opts EffectiveOptions, done Completion) {
	res, err := e.SubstituteBytes(ctx, body, opts)
	if err != nil {
		done(err, "")
		return
	}
	done(nil, res.Text)
}

// ResolveAsync starts SubstituteBytes in a goroutine. The channel yields exactly one Outcome.
func (e *Engine) ResolveAsync(ctx context.Context, body []byte, opts EffectiveOptions) <-chan Outcome {
	ch := make(chan Outcome, 1)
	go func() {
		res, err := e.SubstituteBytes(ctx, body, opts)
		ch <- Outcome{Result: res, Err: err}
	}()
	return ch
}

func (e *Engine) fetcher() FragmentFetcher {
	if e == nil || e.Fetcher == nil {
		return &Fetcher{}
	}
	return e.Fetcher
}

// span is the resolution of one directive or one text region.
type span struct {
	text         string
	keep         bool
	directives   int
	failures     []Failure
	depthLimited bool
	err          error
}

// resolve performs one pass over text at the given depth. Inside an esi:vars
// region (inVars) literal text and include src attributes are interpolated;
// interpolated values are never scanned again.
func (e *Engine) resolve(ctx context.Context, text string, opts EffectiveOptions, depth int, inVars bool) span {
	if !ContainsDirective(text) {
		if inVars {
			return span{text: Interpolate(text, opts.Vars)}
		}
		return span{text: text}
	}

	directives, scanErrs := Scan(text)
	if depth >= opts.MaxDepth {
		out := span{text: text}
		pending := 0
		for _, d := range directives {
			if d.Kind != KindDiscard {
				pending++
			}
		}
		if pending > 0 {
			out.depthLimited = true
			out.failures = []Failure{{
				Kind:  FailureRecursionLimit,
				Depth: depth,
				Err:   fmt.Errorf("%w: %d directive(s) left unresolved at depth %d", ErrRecursionLimit, pending, depth),
			}}
		}
		return out
	}

	var out span
	for _, se := range scanErrs {
		out.failures = append(out.failures, Failure{Kind: FailureScan, Depth: depth, Err: se})
	}

	parts := make([]span, len(directives))
	g, gctx := errgroup.WithContext(ctx)
	if opts.MaxConcurrency > 0 {
		g.SetLimit(opts.MaxConcurrency)
	}
	for i, d := range directives {
		i, d := i, d
		switch d.Kind {
		case KindDiscard:
			parts[i] = span{}
		case KindVars:
			if !ContainsDirective(d.Inner) {
				parts[i] = span{text: Interpolate(d.Inner, opts.Vars), directives: 1}
				continue
			}
			g.Go(func() error {
				p := e.resolve(gctx, d.Inner, opts, depth, true)
				p.directives++
				parts[i] = p
				return p.err
			})
		case KindInclude:
			if inVars {
				d = interpolateSrc(d, opts.Vars)
			}
			g.Go(func() error {
				parts[i] = e.resolveInclude(gctx, d, opts, depth)
				return parts[i].err
			})
		}
	}
	if err := g.Wait(); err != nil {
		return span{err: err}
	}
	if err := ctx.Err(); err != nil {
		return span{err: err}
	}

	var b strings.Builder
	b.Grow(len(text))
	last := 0
	for i, d := range directives {
		b.WriteString(literal(text[last:d.Start], opts, inVars))
		p := parts[i]
		if p.keep {
			b.WriteString(text[d.Start:d.End])
		} else {
			b.WriteString(p.text)
		}
		out.directives += p.directives
		out.failures = append(out.failures, p.failures...)
		out.depthLimited = out.depthLimited || p.depthLimited
		last = d.End
	}
	b.WriteString(literal(text[last:], opts, inVars))
	out.text = b.String()
	return out
}

func (e *Engine) resolveInclude(ctx context.Context, d Directive, opts EffectiveOptions, depth int) span {
	src := d.Src()
	rf, err := ResolveURL(d, opts)
	if err != nil {
		return span{
			keep:       true,
			directives: 1,
			failures:   []Failure{{Kind: FailureConfig, Src: src, Depth: depth, Err: err}},
		}
	}

	body, err := e.fetcher().Fetch(ctx, rf, opts.Timeout)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return span{err: ctxErr}
		}
		return span{
			directives: 1,
			failures:   []Failure{{Kind: FailureFetch, Src: rf.URL, Depth: depth, Err: err}},
		}
	}

	nested := e.resolve(ctx, body, opts, depth+1, false)
	nested.directives++
	return nested
}

func literal(s string, opts EffectiveOptions, inVars bool) string {
	if !inVars {
		return s
	}
	return Interpolate(s, opts.Vars)
}

func interpolateSrc(d Directive, vars map[string]string) Directive {
	src, ok := d.Attrs["src"]
	if !ok {
		return d
	}
	attrs := make(map[string]string, len(d.Attrs))
	for k, v := range d.Attrs {
		attrs[k] = v
	}
	attrs["src"] = Interpolate(src, vars)
	d.Attrs = attrs
	return d
}
