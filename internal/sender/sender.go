// Package sender uploads efficiency reports to a fleet endpoint.
// Reports are marshaled to JSON, compressed with gzip and POSTed with
// exponential backoff. Reports that cannot be delivered are kept in the
// local spool and re-sent after the next successful upload.
package sender

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/vitalis-app/rescontrol/internal/models"
)

const (
	// maxRetries is the maximum number of retry attempts before spooling locally.
	maxRetries = 3

	// baseRetryDelay is the base delay for exponential backoff between retries.
	baseRetryDelay = 2 * time.Second

	// requestTimeout is the HTTP request timeout for each send attempt.
	requestTimeout = 10 * time.Second

	// storeTimeout bounds a whole Store call, retries included.
	storeTimeout = 20 * time.Second
)

// Spool keeps reports that could not be delivered.
type Spool interface {
	Store(report models.Report) error
	RetrieveAll() ([]models.Report, error)
}

// Sender delivers reports to the upload endpoint, falling back to the
// spool when the endpoint is unreachable.
type Sender struct {
	client     *http.Client
	url        string
	token      string
	spool      Spool
	logger     *zap.Logger
	newBackOff func() backoff.BackOff
}

// Option customizes a Sender.
type Option func(*Sender)

// WithBackOff replaces the retry policy.
func WithBackOff(fn func() backoff.BackOff) Option {
	return func(s *Sender) { s.newBackOff = fn }
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(s *Sender) { s.client = c }
}

// New creates a Sender posting to url. spool may be nil, in which case
// undeliverable reports are dropped.
func New(url, token string, spool Spool, logger *zap.Logger, opts ...Option) *Sender {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Sender{
		client: &http.Client{Timeout: requestTimeout},
		url:    url,
		token:  token,
		spool:  spool,
		logger: logger.Named("sender"),
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = baseRetryDelay
			return backoff.WithMaxRetries(b, maxRetries)
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Store uploads the report and, on success, drains previously spooled
// reports. A report that cannot be delivered is spooled; an error is
// returned only when it could be neither delivered nor spooled.
func (s *Sender) Store(report models.Report) error {
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	if err := s.Upload(ctx, report); err != nil {
		s.logger.Warn("Report upload failed, spooling",
			zap.String("report", report.ID),
			zap.Error(err))
		return s.spoolReport(report)
	}
	s.Flush(ctx)
	return nil
}

// Upload sends one report, retrying transient failures. Rate limiting and
// client errors are not retried.
func (s *Sender) Upload(ctx context.Context, report models.Report) error {
	body, err := encode(report)
	if err != nil {
		return err
	}

	op := func() error {
		err := s.doSend(ctx, body)
		var status *statusError
		if errors.As(err, &status) && !status.retryable() {
			return backoff.Permanent(err)
		}
		return err
	}
	b := backoff.WithContext(s.newBackOff(), ctx)

	err = backoff.RetryNotify(op, b, func(err error, d time.Duration) {
		s.logger.Warn("Retrying report upload",
			zap.String("report", report.ID),
			zap.Duration("delay", d),
			zap.Error(err))
	})
	if err != nil {
		return err
	}
	s.logger.Debug("Report uploaded", zap.String("report", report.ID))
	return nil
}

// Flush re-sends spooled reports oldest first. Delivery stops at the first
// failure and the remainder goes back to the spool. Returns how many
// reports were delivered.
func (s *Sender) Flush(ctx context.Context) int {
	if s.spool == nil {
		return 0
	}

	reports, err := s.spool.RetrieveAll()
	if err != nil {
		s.logger.Error("Failed to retrieve spooled reports", zap.Error(err))
		return 0
	}
	if len(reports) == 0 {
		return 0
	}

	s.logger.Info("Flushing spooled reports", zap.Int("reports", len(reports)))

	for i, r := range reports {
		if err := s.Upload(ctx, r); err != nil {
			s.logger.Warn("Flush interrupted, respooling",
				zap.Int("remaining", len(reports)-i),
				zap.Error(err))
			for _, rest := range reports[i:] {
				s.spoolReport(rest)
			}
			return i
		}
	}
	return len(reports)
}

// doSend performs a single HTTP POST.
func (s *Sender) doSend(ctx context.Context, compressed []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(compressed))
	if err != nil {
		return backoff.Permanent(fmt.Errorf("create request: %w", err))
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Content-Encoding", "gzip")
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	return &statusError{code: resp.StatusCode}
}

func (s *Sender) spoolReport(report models.Report) error {
	if s.spool == nil {
		s.logger.Warn("No spool available, dropping report", zap.String("report", report.ID))
		return fmt.Errorf("report %s not delivered and no spool configured", report.ID)
	}
	if err := s.spool.Store(report); err != nil {
		s.logger.Error("Failed to spool report", zap.String("report", report.ID), zap.Error(err))
		return err
	}
	return nil
}

func encode(report models.Report) ([]byte, error) {
	data, err := json.Marshal(report)
	if err != nil {
		return nil, fmt.Errorf("marshal report: %w", err)
	}

	var compressed bytes.Buffer
	gz := gzip.NewWriter(&compressed)
	if _, err := gz.Write(data); err != nil {
		return nil, fmt.Errorf("compress report: %w", err)
	}
	if err := gz.Close(); err != nil {
		return nil, fmt.Errorf("finalize gzip: %w", err)
	}
	return compressed.Bytes(), nil
}

// statusError is a non-2xx response.
type statusError struct {
	code int
}

func (e *statusError) Error() string {
	if e.code == http.StatusTooManyRequests {
		return fmt.Sprintf("rate limited (%d)", e.code)
	}
	return fmt.Sprintf("server returned %d", e.code)
}

// Server errors are retried; rate limiting and other client errors go
// straight to the spool.
func (e *statusError) retryable() bool {
	return e.code >= 500
}
