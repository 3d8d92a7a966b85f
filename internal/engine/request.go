package engine

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/torosent/loadgen/internal/resource"
	"github.com/torosent/loadgen/internal/tracing"
)

const userAgent = "loadgen"

// buildRequest creates the request for one resource node.
func (e *Engine) buildRequest(ctx context.Context, node *resource.Resource) (*http.Request, error) {
	target := e.base + node.NextPath()
	req, err := http.NewRequestWithContext(ctx, node.Method(), target, http.NoBody)
	if err != nil {
		return nil, err
	}
	req.Header = node.Headers()
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", userAgent)
	}
	return req, nil
}

// exchange sends node once (plus retries) and reports its outcome. When the
// exchange yields a response, children requests are queued before the
// response is reported so that queued never trails settled.
func (e *Engine) exchange(ctx context.Context, node *resource.Resource, rec ResponseListener, children int) bool {
	if e.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.Timeout)
		defer cancel()
	}

	var resp Response
	err := e.retry.do(ctx, func(ctx context.Context) error {
		r, err := e.roundTrip(ctx, node)
		if err != nil {
			return err
		}
		resp = r
		return nil
	})
	if err != nil {
		if e.opts.logFailures {
			e.opts.log.WithError(err).WithField("path", node.Template()).Debug("request failed")
		}
		rec.OnFailure(err)
		return false
	}

	for range children {
		rec.OnRequestQueued()
	}
	rec.OnResponse(resp)
	return true
}

func (e *Engine) roundTrip(ctx context.Context, node *resource.Resource) (out Response, err error) {
	if e.opts.tracer != nil {
		var span trace.Span
		ctx, span = tracing.StartRequestSpan(ctx, e.opts.tracer, node.Method(), node.Template())
		defer func() {
			tracing.EndSpan(span, err,
				attribute.Int("http.response.status_code", out.StatusCode),
				attribute.Int64("http.response.body.size", out.ReceivedBytes))
		}()
	}

	req, err := e.buildRequest(ctx, node)
	if err != nil {
		return Response{}, err
	}
	if e.opts.tracer != nil && e.opts.propagate {
		tracing.InjectHTTPHeaders(ctx, req.Header)
	}

	sent := requestSize(req)
	start := time.Now()
	res, err := e.client.Do(req)
	if err != nil {
		return Response{}, err
	}
	defer res.Body.Close()

	body, err := io.Copy(io.Discard, res.Body)
	latency := time.Since(start)
	if err != nil {
		return Response{}, fmt.Errorf("read response body: %w", err)
	}

	return Response{
		StatusCode:    res.StatusCode,
		SentBytes:     sent,
		ReceivedBytes: responseHeadSize(res) + body,
		Latency:       latency,
	}, nil
}

// countingWriter counts bytes written to it.
type countingWriter int64

func (c *countingWriter) Write(p []byte) (int, error) {
	*c += countingWriter(len(p))
	return len(p), nil
}

// requestSize approximates the wire size of req: request line, headers and body.
func requestSize(req *http.Request) int64 {
	var n countingWriter
	fmt.Fprintf(&n, "%s %s HTTP/1.1\r\nHost: %s\r\n", req.Method, req.URL.RequestURI(), req.Host)
	_ = req.Header.Write(&n)
	n += 2
	if req.ContentLength > 0 {
		n += countingWriter(req.ContentLength)
	}
	return int64(n)
}

// responseHeadSize approximates the wire size of the status line and headers.
func responseHeadSize(res *http.Response) int64 {
	var n countingWriter
	fmt.Fprintf(&n, "%s %s %s\r\n", res.Proto, strconv.Itoa(res.StatusCode), http.StatusText(res.StatusCode))
	_ = res.Header.Write(&n)
	n += 2
	return int64(n)
}
