// Package form implements single-shot form submission against manufacturer
// recall-search endpoints using gocolly.
package form

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"
	"golang.org/x/text/encoding/japanese"
	"golang.org/x/text/transform"

	"github.com/kurumaware/recallwatch/internal/metrics"
	"github.com/kurumaware/recallwatch/internal/policy/ratelimit"
	"github.com/kurumaware/recallwatch/internal/snapshot"
)

// Charset names the response encoding a source is known to use. Using the
// wrong decoder silently corrupts every extracted string, so each request
// declares its source's encoding explicitly.
type Charset string

// Supported source charsets.
const (
	CharsetUTF8     Charset = "utf-8"
	CharsetShiftJIS Charset = "shift_jis"
)

// Request captures everything needed to submit one source form.
type Request struct {
	URL     string
	Method  string // http.MethodGet or http.MethodPost
	Fields  map[string]string
	Headers http.Header
	Charset Charset

	// ArchiveKey, when set, stores the raw response under this key in the
	// snapshot store for offline parser debugging.
	ArchiveKey string
}

// Response is the decoded result of one submission. Body is always UTF-8.
type Response struct {
	URL        string
	StatusCode int
	Body       []byte
	Duration   time.Duration
}

// Config controls collector behavior.
type Config struct {
	UserAgent string
	Timeout   time.Duration
}

// Fetcher submits source forms through a Colly collector.
type Fetcher struct {
	cfg     Config
	base    *colly.Collector
	limiter *ratelimit.Limiter
	archive snapshot.Store
	log     *zap.Logger
}

// New builds a Fetcher. limiter and archive may be nil.
func New(cfg Config, limiter *ratelimit.Limiter, archive snapshot.Store, log *zap.Logger) *Fetcher {
	if log == nil {
		log = zap.NewNop()
	}
	c := colly.NewCollector(colly.Async(false))
	c.IgnoreRobotsTxt = true
	c.WithTransport(newHTTPTransport())

	return &Fetcher{
		cfg:     cfg,
		base:    c,
		limiter: limiter,
		archive: archive,
		log:     log,
	}
}

// Fetch submits the request and returns the decoded response. A timeout,
// transport failure, or non-2xx status is returned as an error; callers
// translate that into their degraded-result policy.
func (f *Fetcher) Fetch(ctx context.Context, request Request) (Response, error) {
	if request.URL == "" {
		return Response{}, fmt.Errorf("request url is required")
	}
	if f.limiter != nil {
		if err := f.limiter.Wait(ctx, request.URL); err != nil {
			return Response{}, err
		}
	}

	var (
		result   Response
		fetchErr error
	)
	start := time.Now()
	collector := f.buildCollector(request, start, &result, &fetchErr)

	if err := f.runCollector(ctx, collector, request, &fetchErr); err != nil {
		return Response{}, err
	}

	if host := hostOf(request.URL); host != "" {
		metrics.ObserveSourceFetch(host, result.Duration)
	}

	decoded, err := decodeBody(result.Body, request.Charset)
	if err != nil {
		return Response{}, fmt.Errorf("decode %s body: %w", request.Charset, err)
	}
	result.Body = decoded

	f.archiveResponse(ctx, request, result)
	return result, nil
}

func (f *Fetcher) buildCollector(request Request, start time.Time, result *Response, fetchErr *error) *colly.Collector {
	collector := f.base.Clone()
	if f.cfg.UserAgent != "" {
		collector.UserAgent = f.cfg.UserAgent
	}
	timeout := f.cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	collector.SetRequestTimeout(timeout)

	collector.OnRequest(func(r *colly.Request) {
		for key, values := range request.Headers {
			for _, v := range values {
				r.Headers.Add(key, v)
			}
		}
	})

	collector.OnResponse(func(r *colly.Response) {
		*result = Response{
			URL:        r.Request.URL.String(),
			StatusCode: r.StatusCode,
			Body:       append([]byte(nil), r.Body...),
			Duration:   time.Since(start),
		}
	})

	collector.OnError(func(_ *colly.Response, err error) {
		*fetchErr = err
	})

	return collector
}

func (f *Fetcher) runCollector(ctx context.Context, collector *colly.Collector, request Request, fetchErr *error) error {
	done := make(chan error, 1)
	go func() {
		if request.Method == http.MethodPost {
			done <- collector.Post(request.URL, request.Fields)
			return
		}
		done <- collector.Visit(withQuery(request.URL, request.Fields))
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("form fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("form submit failed: %w", err)
		}
		if *fetchErr != nil {
			return fmt.Errorf("form response failed: %w", *fetchErr)
		}
		return nil
	}
}

func (f *Fetcher) archiveResponse(ctx context.Context, request Request, result Response) {
	if f.archive == nil || request.ArchiveKey == "" {
		return
	}
	path := snapshot.PathFor(hostOf(request.URL), request.ArchiveKey, time.Now())
	if _, err := f.archive.Put(ctx, path, "text/html; charset=utf-8", result.Body); err != nil {
		f.log.Warn("snapshot archive failed", zap.String("path", path), zap.Error(err))
	}
}

func decodeBody(body []byte, cs Charset) ([]byte, error) {
	if cs != CharsetShiftJIS {
		return body, nil
	}
	decoded, _, err := transform.Bytes(japanese.ShiftJIS.NewDecoder(), body)
	if err != nil {
		return nil, err
	}
	return decoded, nil
}

func withQuery(rawURL string, fields map[string]string) string {
	if len(fields) == 0 {
		return rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	q := u.Query()
	for k, v := range fields {
		q.Set(k, v)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

func hostOf(rawURL string) string {
	if u, err := url.Parse(rawURL); err == nil {
		return u.Hostname()
	}
	return ""
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
