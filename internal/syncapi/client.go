// Package syncapi is the narrow boundary through which the fill engine talks
// to the remote checklist API. Any non-2xx answer is an *APIError; there is
// no partial success.
package syncapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"
	"time"

	"sitecheck/internal/model"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"
)

const DefaultTimeout = 30 * time.Second

// maxBodyBytes caps how much of a response body is read
const maxBodyBytes = 16 << 20

// APIError is a non-2xx answer from the API
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error %d %s: %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("api error %d: %s", e.Status, e.Message)
}

// StatusOf returns the HTTP status carried by err, or 0
func StatusOf(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status
	}
	return 0
}

// Config configures the client
type Config struct {
	BaseURL    string
	Token      string
	Timeout    time.Duration
	HTTPClient *http.Client
}

type Client struct {
	baseURL string
	token   string
	http    *http.Client
	log     *zap.Logger
}

func New(cfg Config, log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	hc := cfg.HTTPClient
	if hc == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = DefaultTimeout
		}
		hc = &http.Client{Timeout: timeout}
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		token:   cfg.Token,
		http:    hc,
		log:     log,
	}
}

// CreateResponseInput is the body of a create call
type CreateResponseInput struct {
	ItemTemplateID string `json:"itemTemplateId"`
	model.ResponseFields
}

// UploadInput is one file to upload
type UploadInput struct {
	EntityType  string
	EntityID    string
	FileName    string
	ContentType string
	Data        []byte
}

// UploadedFile is what the API reports for a stored upload
type UploadedFile struct {
	StoragePath string `json:"storagePath"`
	URL         string `json:"url,omitempty"`
	Size        int64  `json:"size,omitempty"`
	MIME        string `json:"mime,omitempty"`
}

// FetchInstance loads an instance with its template and responses
func (c *Client) FetchInstance(ctx context.Context, instanceID string) (*model.ChecklistInstance, error) {
	body, err := c.doJSON(ctx, http.MethodGet, "/checklist-instances/"+url.PathEscape(instanceID), nil)
	if err != nil {
		return nil, err
	}
	var inst model.ChecklistInstance
	if err := json.Unmarshal(unwrap(body), &inst); err != nil {
		return nil, fmt.Errorf("decode instance: %w", err)
	}
	if inst.ID == "" {
		return nil, fmt.Errorf("decode instance: missing id")
	}
	return &inst, nil
}

func (c *Client) CreateResponse(ctx context.Context, instanceID string, in CreateResponseInput) (*model.ItemResponse, error) {
	if in.ItemTemplateID == "" {
		return nil, fmt.Errorf("create response: item template id is required")
	}
	path := "/checklist-instances/" + url.PathEscape(instanceID) + "/responses"
	body, err := c.doJSON(ctx, http.MethodPost, path, in)
	if err != nil {
		return nil, err
	}
	return decodeResponse(body)
}

// UpdateResponse sends only the fields set in fields
func (c *Client) UpdateResponse(ctx context.Context, instanceID, responseID string, fields model.ResponseFields) (*model.ItemResponse, error) {
	path := "/checklist-instances/" + url.PathEscape(instanceID) + "/responses/" + url.PathEscape(responseID)
	body, err := c.doJSON(ctx, http.MethodPut, path, fields)
	if err != nil {
		return nil, err
	}
	return decodeResponse(body)
}

// UploadFile posts one file as multipart form data and returns its storage path
func (c *Client) UploadFile(ctx context.Context, projectID string, in UploadInput) (*UploadedFile, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.WriteField("entity_type", in.EntityType); err != nil {
		return nil, err
	}
	if err := mw.WriteField("entity_id", in.EntityID); err != nil {
		return nil, err
	}

	ct := in.ContentType
	if ct == "" {
		ct = http.DetectContentType(in.Data)
	}
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, escapeQuotes(in.FileName)))
	h.Set("Content-Type", ct)
	part, err := mw.CreatePart(h)
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(in.Data); err != nil {
		return nil, err
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	path := "/projects/" + url.PathEscape(projectID) + "/files"
	body, err := c.do(ctx, http.MethodPost, path, &buf, mw.FormDataContentType())
	if err != nil {
		return nil, err
	}

	doc := unwrap(body)
	storagePath := firstString(doc, "storagePath", "storage_path", "path")
	if storagePath == "" {
		return nil, fmt.Errorf("upload %s: response has no storage path", in.FileName)
	}
	return &UploadedFile{
		StoragePath: storagePath,
		URL:         gjson.GetBytes(doc, "url").String(),
		Size:        gjson.GetBytes(doc, "size").Int(),
		MIME:        firstString(doc, "mime", "contentType"),
	}, nil
}

// CompleteInspection marks the inspection complete, with an optional signature
func (c *Client) CompleteInspection(ctx context.Context, projectID, inspectionID string, signature *string) error {
	path := "/projects/" + url.PathEscape(projectID) + "/inspections/" + url.PathEscape(inspectionID) + "/complete"
	payload := struct {
		Signature *string `json:"signature,omitempty"`
	}{Signature: signature}
	_, err := c.doJSON(ctx, http.MethodPost, path, payload)
	return err
}

// Event is one entry of an instance's change log
type Event struct {
	Sequence  int64          `json:"seq"`
	Event     map[string]any `json:"event"`
	Timestamp time.Time      `json:"timestamp"`
}

// Type is the event's type field
func (e Event) Type() string {
	t, _ := e.Event["type"].(string)
	return t
}

// ListEvents returns the change events of an instance after sequence since.
// The endpoint is served by the development API only.
func (c *Client) ListEvents(ctx context.Context, instanceID string, since int64) ([]Event, error) {
	path := "/checklist-instances/" + url.PathEscape(instanceID) + "/events?since=" + strconv.FormatInt(since, 10)
	body, err := c.doJSON(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	var out struct {
		Events []Event `json:"events"`
	}
	if err := json.Unmarshal(unwrap(body), &out); err != nil {
		return nil, fmt.Errorf("decode events: %w", err)
	}
	return out.Events, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, payload any) ([]byte, error) {
	var body io.Reader
	contentType := ""
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(data)
		contentType = "application/json"
	}
	return c.do(ctx, method, path, body, contentType)
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader, contentType string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.log.Warn("API request failed", zap.String("method", method), zap.String("path", path), zap.Error(err))
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("%s %s: read body: %w", method, path, err)
	}

	c.log.Debug("API request",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("duration", time.Since(start)),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, parseAPIError(resp.StatusCode, data)
	}
	return data, nil
}

func parseAPIError(status int, body []byte) *APIError {
	e := &APIError{Status: status}
	if gjson.ValidBytes(body) {
		e.Code = firstString(body, "code", "error")
		e.Message = firstString(body, "message", "detail.0.msg", "detail", "error")
	}
	if e.Message == "" {
		e.Message = strings.TrimSpace(string(body))
	}
	if e.Message == "" {
		e.Message = http.StatusText(status)
	}
	return e
}

func decodeResponse(body []byte) (*model.ItemResponse, error) {
	var r model.ItemResponse
	if err := json.Unmarshal(unwrap(body), &r); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if r.ID == "" {
		return nil, fmt.Errorf("decode response: missing id")
	}
	return &r, nil
}

// unwrap strips a {"data": {...}} envelope when present
func unwrap(body []byte) []byte {
	if data := gjson.GetBytes(body, "data"); data.IsObject() {
		return []byte(data.Raw)
	}
	return body
}

func firstString(doc []byte, paths ...string) string {
	for _, p := range paths {
		if v := gjson.GetBytes(doc, p); v.Exists() && v.Type == gjson.String && v.String() != "" {
			return v.String()
		}
	}
	return ""
}

func escapeQuotes(s string) string {
	return strings.NewReplacer("\\", "\\\\", `"`, "\\\"").Replace(s)
}
