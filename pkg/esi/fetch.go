package esi

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/r9s-ai/esi-router/pkg/httpclient"
)

const DefaultMaxBodyBytes int64 = 8 << 20

// FragmentFetcher retrieves the text of one fragment. Failures are *FetchError values.
type FragmentFetcher interface {
	Fetch(ctx context.Context, rf ResolvedFetch, timeout time.Duration) (string, error)
}

// Fetcher is the HTTP FragmentFetcher. Connection management belongs to HTTP.
type Fetcher struct {
	HTTP         httpclient.HTTPDoer
	MaxBodyBytes int64
	UserAgent    string
}

func (f *Fetcher) Fetch(ctx context.Context, rf ResolvedFetch, timeout time.Duration) (string, error) {
	doer := f.HTTP
	if doer == nil {
		doer = http.DefaultClient
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rf.URL, nil)
	if err != nil {
		return "", &FetchError{URL: rf.URL, Reason: FetchNetwork, Err: err}
	}
	for k, vs := range rf.Headers {
		req.Header[k] = append([]string(nil), vs...)
	}
	if f.UserAgent != "" && req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", f.UserAgent)
	}

	resp, err := doer.Do(req)
	if err != nil {
		return "", &FetchError{URL: rf.URL, Reason: classifyFetchErr(ctx, err), Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
		return "", &FetchError{URL: rf.URL, Reason: FetchStatus, StatusCode: resp.StatusCode}
	}

	limit := f.MaxBodyBytes
	if limit <= 0 {
		limit = DefaultMaxBodyBytes
	}
	b, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return "", &FetchError{URL: rf.URL, Reason: classifyFetchErr(ctx, err), StatusCode: resp.StatusCode, Err: err}
	}
	if int64(len(b)) > limit {
		return "", &FetchError{URL: rf.URL, Reason: FetchTooLarge, StatusCode: resp.StatusCode}
	}
	return string(b), nil
}

func classifyFetchErr(ctx context.Context, err error) FetchReason {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return FetchTimeout
	}
	if errors.Is(err, context.Canceled) || errors.Is(ctx.Err(), context.Canceled) {
		return FetchCanceled
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return FetchTimeout
	}
	return FetchNetwork
}
