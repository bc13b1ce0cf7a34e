package adapter

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/flemzord/gatewayd/internal/catalog"
)

const maxErrorBodySize = 4096

var tracer = otel.Tracer("github.com/flemzord/gatewayd/internal/adapter")

var sharedClient = &http.Client{
	Transport: &http.Transport{
		ResponseHeaderTimeout: 2 * time.Minute,
		TLSHandshakeTimeout:   10 * time.Second,
		IdleConnTimeout:       90 * time.Second,
	},
}

// doRequest issues a POST with body to url and returns the 2xx body, or a
// normalized error classified from the transport failure or non-2xx
// status. Exactly one of (body, normErr) is meaningful on a nil error
// return.
func doRequest(ctx context.Context, url string, body []byte, headers map[string]string) ([]byte, catalog.NormalizedError, error) {
	ctx, span := tracer.Start(ctx, "adapter.request",
		trace.WithAttributes(attribute.String("url", url)))
	defer span.End()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, "", err
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := sharedClient.Do(req)
	if err != nil {
		normErr := catalog.Classify(0, "", exceptionKind(err))
		if ctx.Err() != nil {
			normErr = catalog.ErrTimeout
		}
		span.SetStatus(codes.Error, string(normErr))
		return nil, normErr, nil
	}
	defer resp.Body.Close()

	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", err
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return respBody, "", nil
	}

	excerpt := respBody
	if len(excerpt) > maxErrorBodySize {
		excerpt = excerpt[:maxErrorBodySize]
	}
	normErr := catalog.Classify(resp.StatusCode, string(excerpt), catalog.ExceptionNone)
	span.SetStatus(codes.Error, string(normErr))
	return nil, normErr, nil
}

// exceptionKind classifies a transport-level error (no HTTP response at
// all) into the taxonomy's exception kinds.
func exceptionKind(err error) catalog.ExceptionKind {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return catalog.ExceptionTimeout
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return catalog.ExceptionDNS
	}
	return catalog.ExceptionConnRefused
}
