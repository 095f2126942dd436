package courier

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/secrethound/secrethound/models"
)

// Delivery limits.
const (
	maxAttempts    = 3
	connectTimeout = 10 * time.Second
	totalTimeout   = 60 * time.Second
	logBodyLimit   = 200
)

// Envelope is the compressed wrapper around every delivered report.
type Envelope struct {
	Compressed     bool   `json:"compressed"`
	Data           string `json:"data"`
	OriginalSize   int    `json:"original_size"`
	CompressedSize int    `json:"compressed_size"`
}

// Courier delivers scan reports to callback URLs with bounded retries.
// Safe for concurrent use.
type Courier struct {
	client *retryablehttp.Client
	plain  *http.Client
}

func New() *Courier {
	c := retryablehttp.NewClient()
	c.RetryMax = maxAttempts - 1
	c.Logger = nil
	c.HTTPClient = &http.Client{
		Timeout: totalTimeout,
		Transport: &http.Transport{
			ResponseHeaderTimeout: 30 * time.Second,
			DialContext:           dialContext(connectTimeout),
		},
	}
	// 1s, 2s, 4s between attempts.
	c.Backoff = func(min, max time.Duration, attempt int, _ *http.Response) time.Duration {
		return time.Duration(1<<attempt) * time.Second
	}
	// Any non-2xx is worth another attempt; the callback receiver decides
	// nothing we can branch on.
	c.CheckRetry = func(ctx context.Context, resp *http.Response, err error) (bool, error) {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		if err != nil {
			return true, nil
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			logResponse(resp)
			return true, nil
		}
		return false, nil
	}
	return &Courier{client: c, plain: &http.Client{Timeout: 15 * time.Second}}
}

// Deliver compresses the report into the envelope and posts it. After the
// final failed attempt the loss is logged as critical; the error is still
// returned for the worker's log line.
func (c *Courier) Deliver(ctx context.Context, callbackURL string, report *models.ScanReport) error {
	raw, err := marshalUTF8(report)
	if err != nil {
		return fmt.Errorf("encoding report: %w", err)
	}
	body, err := wrap(raw)
	if err != nil {
		return fmt.Errorf("compressing report: %w", err)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, callbackURL, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Compressed", "gzip-base64")

	resp, err := c.client.Do(req)
	if err != nil {
		slog.Error("Callback delivery failed after all attempts",
			"critical", true, "url", callbackURL, "project", report.ProjectName, "error", err)
		return fmt.Errorf("delivering callback: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	slog.Info("Callback delivered",
		"url", callbackURL, "project", report.ProjectName,
		"status", resp.StatusCode, "findings", len(report.Results))
	return nil
}

// SendError delivers the error variant through the same envelope path.
func (c *Courier) SendError(ctx context.Context, callbackURL, projectName, message string) error {
	return c.Deliver(ctx, callbackURL, &models.ScanReport{
		Status:      "Error",
		Message:     message,
		ProjectName: projectName,
	})
}

// SendPartial posts a best-effort progress ping: plain JSON, one attempt,
// failures only logged.
func (c *Courier) SendPartial(ctx context.Context, callbackURL string, filesScanned int) {
	raw, err := marshalUTF8(&models.PartialReport{Status: "partial", FilesScanned: filesScanned})
	if err != nil {
		return
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, callbackURL, bytes.NewReader(raw))
	if err != nil {
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.plain.Do(req)
	if err != nil {
		slog.Warn("Partial callback failed", "url", callbackURL, "error", err)
		return
	}
	resp.Body.Close()
}

// wrap builds the gzip+base64 envelope bytes.
func wrap(raw []byte) ([]byte, error) {
	var gz bytes.Buffer
	w := gzip.NewWriter(&gz)
	if _, err := w.Write(raw); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}

	env := Envelope{
		Compressed:     true,
		Data:           base64.StdEncoding.EncodeToString(gz.Bytes()),
		OriginalSize:   len(raw),
		CompressedSize: gz.Len(),
	}
	return marshalUTF8(env)
}

// marshalUTF8 encodes without HTML escaping so non-ASCII sentinel text
// survives byte-for-byte.
func marshalUTF8(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

func dialContext(timeout time.Duration) func(ctx context.Context, network, addr string) (net.Conn, error) {
	d := &net.Dialer{Timeout: timeout}
	return d.DialContext
}

func logResponse(resp *http.Response) {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, logBodyLimit))
	hint := ""
	switch resp.StatusCode {
	case http.StatusRequestEntityTooLarge:
		hint = "payload too large for receiver"
	case http.StatusInternalServerError, http.StatusBadGateway,
		http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		hint = "receiver-side failure, retrying"
	}
	slog.Warn("Callback attempt rejected",
		"status", resp.StatusCode, "body", string(body), "hint", hint)
}
