package gallery

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	apperrors "github.com/alexjbarnes/delivery-sync/internal/errors"
	"github.com/alexjbarnes/delivery-sync/internal/models"
	"github.com/google/uuid"
	"github.com/tidwall/gjson"
)

// TransientError wraps an error that is likely temporary and safe to retry.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

// IsTransient reports whether err (or any error in its chain) is a
// TransientError, meaning the caller may retry after a backoff.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

const (
	// maxRedirects is the maximum number of HTTP redirects to follow
	// before giving up, matching the default net/http limit.
	maxRedirects = 10

	// httpClientTimeout bounds JSON calls. Streaming calls (progress
	// channel, binary downloads) run without a client timeout and are
	// bounded by their context instead.
	httpClientTimeout = 30 * time.Second

	// maxAPIResponseBytes caps JSON response reads. Snapshots of large
	// galleries are the biggest payload.
	maxAPIResponseBytes = 16 * 1024 * 1024

	requestIDHeader = "X-Request-ID"
)

// Client talks to the portal REST API.
type Client struct {
	httpClient   *http.Client
	streamClient *http.Client
	baseURL      string
	token        string
}

// sameHostRedirectPolicy follows redirects only when the target host
// matches the original request host, so the bearer token never reaches
// a third-party domain.
func sameHostRedirectPolicy(req *http.Request, via []*http.Request) error {
	if len(via) >= maxRedirects {
		return errors.New("stopped after 10 redirects")
	}

	if len(via) > 0 {
		origHost := via[0].URL.Host
		if req.URL.Host != origHost {
			return fmt.Errorf("redirect to different host blocked: %s -> %s", origHost, req.URL.Host)
		}
	}

	return nil
}

// NewClient creates a portal client. If httpClient is nil, JSON calls
// use a client with a 30-second timeout and same-host redirect policy,
// and streaming calls use the same policy without a timeout. A provided
// httpClient is used for both.
func NewClient(httpClient *http.Client, baseURL, token string) *Client {
	streamClient := httpClient

	if httpClient == nil {
		httpClient = &http.Client{
			Timeout:       httpClientTimeout,
			CheckRedirect: sameHostRedirectPolicy,
		}
		streamClient = &http.Client{
			CheckRedirect: sameHostRedirectPolicy,
		}
	}

	return &Client{
		httpClient:   httpClient,
		streamClient: streamClient,
		baseURL:      strings.TrimRight(baseURL, "/"),
		token:        token,
	}
}

// sanitizeResponseBody truncates and sanitizes a response body for
// inclusion in error messages. Limits to 256 bytes and replaces
// non-printable characters to prevent log injection.
func sanitizeResponseBody(body []byte) string {
	const maxLen = 256
	if len(body) > maxLen {
		body = body[:maxLen]
	}

	var clean []byte

	for len(body) > 0 {
		r, size := utf8.DecodeRune(body)
		if r == utf8.RuneError && size <= 1 {
			clean = append(clean, '?')
			body = body[1:]

			continue
		}

		if r < 0x20 && r != '\n' && r != '\r' && r != '\t' {
			clean = append(clean, '?')
		} else {
			clean = append(clean, body[:size]...)
		}

		body = body[size:]
	}

	return string(clean)
}

type requestIDKey struct{}

// WithRequestID tags ctx so the next portal call sends id as its
// X-Request-ID instead of a fresh one.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestIDFrom returns the request id carried by ctx, if any.
func RequestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func rootEndpoint(rootID string, parts ...string) string {
	var b strings.Builder

	b.WriteString("/roots/")
	b.WriteString(url.PathEscape(rootID))

	for _, p := range parts {
		b.WriteByte('/')
		b.WriteString(p)
	}

	return b.String()
}

// send issues a request and returns the response when the status is
// 2xx. Any other status is turned into an error that carries the
// server's message; the body is closed in that case.
func (c *Client) send(ctx context.Context, hc *http.Client, method, endpoint string, query url.Values, body interface{}, accept string) (*http.Response, error) {
	var reader io.Reader

	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshalling request body: %w", err)
		}

		reader = bytes.NewReader(payload)
	}

	target := c.baseURL + endpoint
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	requestID := RequestIDFrom(ctx)
	if requestID == "" {
		requestID = uuid.NewString()
	}

	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set(requestIDHeader, requestID)

	if accept != "" {
		req.Header.Set("Accept", accept)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := hc.Do(req)
	if err != nil {
		wrapped := fmt.Errorf("%w: sending %s %s: %w", apperrors.ErrAPIRequest, method, endpoint, err)
		// Network errors (timeouts, connection refused, DNS failures)
		// are transient by nature. A cancelled context is not.
		if ctx.Err() != nil {
			return nil, wrapped
		}

		return nil, &TransientError{Err: wrapped}
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, nil
	}

	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxAPIResponseBytes))

	msg := gjson.GetBytes(respBody, "error").String()
	if msg == "" {
		msg = gjson.GetBytes(respBody, "message").String()
	}

	if msg == "" {
		msg = sanitizeResponseBody(respBody)
	} else {
		msg = sanitizeResponseBody([]byte(msg))
	}

	apiErr := fmt.Errorf("%w: %s %s returned status %d (request %s): %s",
		apperrors.ErrAPIResponse, method, endpoint, resp.StatusCode, requestID, msg)
	if isTransientStatus(resp.StatusCode) {
		return nil, &TransientError{Err: apiErr}
	}

	return nil, apiErr
}

// call sends a JSON request and decodes the JSON response into result
// when result is non-nil.
func (c *Client) call(ctx context.Context, method, endpoint string, query url.Values, body, result interface{}) error {
	resp, err := c.send(ctx, c.httpClient, method, endpoint, query, body, "application/json")
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxAPIResponseBytes))
	if err != nil {
		return fmt.Errorf("reading response from %s: %w", endpoint, err)
	}

	if result == nil || len(bytes.TrimSpace(respBody)) == 0 {
		return nil
	}

	if err := json.Unmarshal(respBody, result); err != nil {
		return fmt.Errorf("%w: decoding response from %s: %w", apperrors.ErrAPIResponse, endpoint, err)
	}

	return nil
}

// isTransientStatus returns true for HTTP status codes that indicate a
// temporary server-side problem worth retrying.
func isTransientStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}

	return false
}

// FetchTree returns every folder of a root with its files embedded.
// The portal answers either with a bare array or with {"folders": [...]}.
func (c *Client) FetchTree(ctx context.Context, rootID string) ([]models.Folder, error) {
	var raw json.RawMessage
	if err := c.call(ctx, http.MethodGet, rootEndpoint(rootID, "folders"), nil, nil, &raw); err != nil {
		return nil, fmt.Errorf("fetching folders: %w", err)
	}

	list := []byte(raw)
	if wrapped := gjson.GetBytes(raw, "folders"); wrapped.IsArray() {
		list = []byte(wrapped.Raw)
	}

	var folders []models.Folder
	if len(list) > 0 {
		if err := json.Unmarshal(list, &folders); err != nil {
			return nil, fmt.Errorf("%w: decoding folders: %w", apperrors.ErrAPIResponse, err)
		}
	}

	return folders, nil
}

type createFolderRequest struct {
	Name       string `json:"name"`
	ParentPath string `json:"parentPath,omitempty"`
}

// CreateFolder creates a content section, optionally under parentPath.
func (c *Client) CreateFolder(ctx context.Context, rootID, name, parentPath string) error {
	req := createFolderRequest{Name: name, ParentPath: parentPath}
	if err := c.call(ctx, http.MethodPost, rootEndpoint(rootID, "folders"), nil, req, nil); err != nil {
		return fmt.Errorf("creating folder: %w", err)
	}

	return nil
}

type renameFolderRequest struct {
	Path    string `json:"path"`
	NewName string `json:"newName"`
}

// RenameFolder sets the display name of the folder at path.
func (c *Client) RenameFolder(ctx context.Context, rootID, path, newName string) error {
	req := renameFolderRequest{Path: path, NewName: newName}
	if err := c.call(ctx, http.MethodPost, rootEndpoint(rootID, "folders", "rename"), nil, req, nil); err != nil {
		return fmt.Errorf("renaming folder: %w", err)
	}

	return nil
}

// DeleteFolder deletes the folder at path. token identifies standalone
// sections and may be empty.
func (c *Client) DeleteFolder(ctx context.Context, rootID, path, token string) error {
	q := url.Values{}
	q.Set("path", path)

	if token != "" {
		q.Set("token", token)
	}

	if err := c.call(ctx, http.MethodDelete, rootEndpoint(rootID, "folders"), q, nil, nil); err != nil {
		return fmt.Errorf("deleting folder: %w", err)
	}

	return nil
}

// DeleteFile deletes one delivered file.
func (c *Client) DeleteFile(ctx context.Context, rootID, fileID string) error {
	if err := c.call(ctx, http.MethodDelete, rootEndpoint(rootID, "files", url.PathEscape(fileID)), nil, nil, nil); err != nil {
		return fmt.Errorf("deleting file: %w", err)
	}

	return nil
}

type visibilityRequest struct {
	Key       string `json:"key"`
	IsVisible bool   `json:"isVisible"`
}

// SetFolderVisibility shows or hides a folder on the delivery page.
func (c *Client) SetFolderVisibility(ctx context.Context, rootID, key string, visible bool) error {
	req := visibilityRequest{Key: key, IsVisible: visible}
	if err := c.call(ctx, http.MethodPost, rootEndpoint(rootID, "folders", "visibility"), nil, req, nil); err != nil {
		return fmt.Errorf("setting folder visibility: %w", err)
	}

	return nil
}

type reorderRequest struct {
	Orders []OrderAssignment `json:"orders"`
}

// ReorderFolders persists a batch of sibling display orders.
func (c *Client) ReorderFolders(ctx context.Context, rootID string, orders []OrderAssignment) error {
	req := reorderRequest{Orders: orders}
	if err := c.call(ctx, http.MethodPost, rootEndpoint(rootID, "folders", "reorder"), nil, req, nil); err != nil {
		return fmt.Errorf("reordering folders: %w", err)
	}

	return nil
}

func scopeQuery(scope ArchiveScope) url.Values {
	q := url.Values{}
	if len(scope.FileIDs) > 0 {
		q.Set("fileIds", strings.Join(scope.FileIDs, ","))
	} else {
		q.Set("folderPath", scope.FolderPath)
	}

	return q
}

// ArchiveProgress opens the server-sent event stream reporting archive
// assembly for the given scope.
func (c *Client) ArchiveProgress(ctx context.Context, rootID string, scope ArchiveScope) (FrameStream, error) {
	resp, err := c.send(ctx, c.streamClient, http.MethodGet, rootEndpoint(rootID, "archive", "progress"), scopeQuery(scope), nil, "text/event-stream")
	if err != nil {
		return nil, fmt.Errorf("opening archive progress: %w", err)
	}

	return newEventStream(resp.Body), nil
}

// Archive fetches the assembled archive of a folder as a stream.
func (c *Client) Archive(ctx context.Context, rootID, folderPath string) (*Artifact, error) {
	q := url.Values{}
	q.Set("folderPath", folderPath)

	resp, err := c.send(ctx, c.streamClient, http.MethodGet, rootEndpoint(rootID, "archive"), q, nil, "")
	if err != nil {
		return nil, fmt.Errorf("fetching archive: %w", err)
	}

	return artifactFrom(resp), nil
}

type downloadFilesRequest struct {
	FileIDs []string `json:"fileIds"`
}

// DownloadFiles fetches a file selection as a stream.
func (c *Client) DownloadFiles(ctx context.Context, rootID string, fileIDs []string) (*Artifact, error) {
	req := downloadFilesRequest{FileIDs: fileIDs}

	resp, err := c.send(ctx, c.streamClient, http.MethodPost, rootEndpoint(rootID, "files", "download"), nil, req, "")
	if err != nil {
		return nil, fmt.Errorf("downloading files: %w", err)
	}

	return artifactFrom(resp), nil
}

func artifactFrom(resp *http.Response) *Artifact {
	return &Artifact{
		Body:          resp.Body,
		ContentLength: resp.ContentLength,
		Filename:      filenameFromDisposition(resp.Header.Get("Content-Disposition")),
		ContentType:   resp.Header.Get("Content-Type"),
	}
}

// filenameFromDisposition extracts the suggested filename. mime handles
// both filename= and the RFC 5987 filename*= form.
func filenameFromDisposition(header string) string {
	if header == "" {
		return ""
	}

	_, params, err := mime.ParseMediaType(header)
	if err != nil {
		return ""
	}

	return params["filename"]
}
