package stream

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strconv"
	"strings"
)

// Response is the part of a backend response the processor needs. Body is
// nil when the backend sent none.
type Response struct {
	Status     int
	StatusText string
	Body       io.ReadCloser
}

// Transport posts a request body and returns the response as a byte stream.
// Cancelling ctx must abort both the request and any later body reads.
type Transport interface {
	Post(ctx context.Context, url string, header http.Header, body []byte) (*Response, error)
}

// HTTPTransport is a Transport over net/http.
type HTTPTransport struct {
	client *http.Client
}

// NewHTTPTransport creates a transport. A nil client uses one without an
// overall timeout, since responses are streamed for as long as the model
// generates.
func NewHTTPTransport(client *http.Client) *HTTPTransport {
	if client == nil {
		client = &http.Client{}
	}
	return &HTTPTransport{client: client}
}

func (t *HTTPTransport) Post(ctx context.Context, url string, header http.Header, body []byte) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, err
	}

	out := &Response{
		Status:     resp.StatusCode,
		StatusText: statusText(resp),
		Body:       resp.Body,
	}
	if resp.Body == nil || resp.Body == http.NoBody {
		out.Body = nil
	}
	return out, nil
}

// statusText strips the code from resp.Status ("404 Not Found" -> "Not Found").
func statusText(resp *http.Response) string {
	text := strings.TrimSpace(strings.TrimPrefix(resp.Status, strconv.Itoa(resp.StatusCode)))
	if text == "" {
		text = http.StatusText(resp.StatusCode)
	}
	return text
}
