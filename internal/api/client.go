// Package api is the HTTP client for the document service that stores
// uploads, splits them into chapters and generates summaries.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/metcalfc/tsundoku/internal/config"
	"github.com/metcalfc/tsundoku/internal/httputil"
	"github.com/metcalfc/tsundoku/internal/logging"
)

const defaultTimeout = 30 * time.Second

// Client talks to the document service.
type Client struct {
	baseURL    string
	userAgent  string
	maxRetries int
	http       *http.Client
	log        *slog.Logger
}

// NewClient creates a client from cfg. A zero timeout falls back to 30s.
func NewClient(cfg config.ServiceConfig, logger *slog.Logger) *Client {
	if logger == nil {
		logger = logging.Discard()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		userAgent:  cfg.UserAgent,
		maxRetries: cfg.MaxRetries,
		http:       &http.Client{Timeout: timeout},
		log:        logger,
	}
}

// Upload sends the document as the multipart field "file".
func (c *Client) Upload(ctx context.Context, filename, contentType string, r io.Reader) (*UploadResult, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, quoteEscaper.Replace(filename)))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	h.Set("Content-Type", contentType)

	part, err := mw.CreatePart(h)
	if err != nil {
		return nil, fmt.Errorf("creating form part: %w", err)
	}
	if _, err := io.Copy(part, r); err != nil {
		return nil, fmt.Errorf("reading %s: %w", filename, err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("closing form: %w", err)
	}

	req, err := c.newRequest(ctx, http.MethodPost, "/upload", &body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var res UploadResult
	if err := c.do(ctx, "upload", req, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Chapters lists the chapters of a book in server order.
func (c *Client) Chapters(ctx context.Context, bookID int64) ([]Chapter, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/books/"+strconv.FormatInt(bookID, 10)+"/chapters", nil)
	if err != nil {
		return nil, err
	}
	var chapters []Chapter
	if err := c.do(ctx, "list chapters", req, &chapters); err != nil {
		return nil, err
	}
	return chapters, nil
}

// ChapterContent fetches the text and summary of a chapter.
func (c *Client) ChapterContent(ctx context.Context, chapterID int64) (*ChapterContent, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/chapters/"+strconv.FormatInt(chapterID, 10)+"/content", nil)
	if err != nil {
		return nil, err
	}
	var content ChapterContent
	if err := c.do(ctx, "chapter content", req, &content); err != nil {
		return nil, err
	}
	return &content, nil
}

// Summarize asks the service to generate a summary for a chapter.
func (c *Client) Summarize(ctx context.Context, chapterID int64) (string, error) {
	req, err := c.newRequest(ctx, http.MethodPost, "/chapters/"+strconv.FormatInt(chapterID, 10)+"/summarize", nil)
	if err != nil {
		return "", err
	}
	var res summaryResponse
	if err := c.do(ctx, "summarize", req, &res); err != nil {
		return "", err
	}
	return res.Summary, nil
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", uuid.NewString())
	return req, nil
}

// do sends req and decodes a 2xx JSON body into v. Any other status is a
// ServiceError; failing to get a response at all is a TransportError.
func (c *Client) do(ctx context.Context, op string, req *http.Request, v any) error {
	start := time.Now()
	log := c.log.With("op", op, "request_id", req.Header.Get("X-Request-ID"))

	resp, err := httputil.DoWithRetry(ctx, c.http, req, c.maxRetries)
	if err != nil {
		log.Warn("request failed", "url", req.URL.String(), "err", err)
		return &TransportError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	log.Debug("response", "status", resp.StatusCode, "elapsed", time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, resp.Body)
		return &ServiceError{Op: op, StatusCode: resp.StatusCode}
	}

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("%s: decoding response: %w", op, err)
	}
	return nil
}
