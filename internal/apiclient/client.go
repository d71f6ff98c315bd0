// Package apiclient is the HTTP client the web UI and the CLI use to talk to the API.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/crucial707/equipment-manager/internal/graph"
	"github.com/crucial707/equipment-manager/internal/models"
	"github.com/crucial707/equipment-manager/internal/search"
	"github.com/crucial707/equipment-manager/internal/validation"
)

// DefaultTimeout bounds requests that do not move a spreadsheet.
const DefaultTimeout = 30 * time.Second

// Client calls the API as the user whose token it carries.
type Client struct {
	BaseURL string
	Token   string
	HTTP    *http.Client
}

// New returns a client for baseURL with no token.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP:    &http.Client{Timeout: DefaultTimeout},
	}
}

// WithToken returns a copy of c that authenticates with token.
func (c *Client) WithToken(token string) *Client {
	cp := *c
	cp.Token = token
	return &cp
}

type clientIPKey struct{}

// ForClient marks requests made with ctx as made on behalf of the end user at
// ip. The address is sent as X-Forwarded-For so the API rate limits that user
// rather than the caller.
func ForClient(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPKey{}, ip)
}

// IsRateLimited reports whether err is a 429 from the API.
func IsRateLimited(err error) bool {
	return StatusOf(err) == http.StatusTooManyRequests
}

// Error is a non-2xx API response.
type Error struct {
	Status     int
	Message    string
	Violations validation.Violations
}

func (e *Error) Error() string {
	if len(e.Violations) > 0 {
		return fmt.Sprintf("%s: %v", e.Message, e.Violations)
	}
	return fmt.Sprintf("status %d: %s", e.Status, e.Message)
}

// IsUnauthorized reports whether err is a 401 from the API: the token is missing, invalid or expired.
func IsUnauthorized(err error) bool {
	var ae *Error
	return errors.As(err, &ae) && ae.Status == http.StatusUnauthorized
}

// StatusOf returns the HTTP status of an API error, or 0 for transport errors.
func StatusOf(err error) int {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Status
	}
	return 0
}

// Page is one page of equipment.
type Page struct {
	Items  []models.Equipment `json:"items"`
	Total  int64              `json:"total"`
	Limit  int                `json:"limit"`
	Offset int                `json:"offset"`

	Summary *models.SearchSummary `json:"summary,omitempty"`
}

// Edit is one pending grid edit.
type Edit struct {
	ID     int64             `json:"id"`
	Fields map[string]string `json:"fields"`
}

// LoginResult is what a successful login returns.
type LoginResult struct {
	Token     string      `json:"token"`
	ExpiresAt time.Time   `json:"expires_at"`
	User      models.User `json:"user"`
}

// ImportResult reports an import.
type ImportResult struct {
	DryRun    bool   `json:"dry_run"`
	Format    string `json:"format"`
	Rows      int    `json:"rows"`
	Inserted  int    `json:"inserted"`
	Updated   int    `json:"updated"`
	Unchanged int    `json:"unchanged"`
}

// Lookup is the body of GET /lookup.
type Lookup struct {
	Found  bool                `json:"found"`
	Result models.LookupResult `json:"result"`
}

//
// ==========================
// Auth
// ==========================
//

func (c *Client) Login(ctx context.Context, username, password string) (LoginResult, error) {
	var out LoginResult
	err := c.do(ctx, http.MethodPost, "/auth/login", map[string]string{"username": username, "password": password}, &out)
	if err == nil && out.Token == "" {
		err = errors.New("login succeeded but no token returned")
	}
	return out, err
}

func (c *Client) Register(ctx context.Context, username, password string) (models.User, error) {
	var out models.User
	err := c.do(ctx, http.MethodPost, "/auth/register", map[string]string{"username": username, "password": password}, &out)
	return out, err
}

func (c *Client) Users(ctx context.Context) ([]models.User, error) {
	var out []models.User
	err := c.do(ctx, http.MethodGet, "/users", nil, &out)
	return out, err
}

//
// ==========================
// Equipment
// ==========================
//

// List calls GET /equipment with q, sort, desc, limit, offset.
func (c *Client) List(ctx context.Context, q url.Values) (Page, error) {
	var out Page
	err := c.do(ctx, http.MethodGet, withQuery("/equipment", q), nil, &out)
	return out, err
}

func (c *Client) Search(ctx context.Context, req search.Request) (Page, error) {
	var out Page
	err := c.do(ctx, http.MethodPost, "/search", req, &out)
	return out, err
}

func (c *Client) Get(ctx context.Context, id int64) (models.Equipment, error) {
	var out models.Equipment
	err := c.do(ctx, http.MethodGet, "/equipment/"+strconv.FormatInt(id, 10), nil, &out)
	return out, err
}

func (c *Client) Create(ctx context.Context, fields map[string]string) (models.Equipment, error) {
	var out models.Equipment
	err := c.do(ctx, http.MethodPost, "/equipment", map[string]interface{}{"fields": fields}, &out)
	return out, err
}

// Update changes the given fields and returns the stored record with the audit entries written.
func (c *Client) Update(ctx context.Context, id int64, fields map[string]string) (models.Equipment, []models.AuditEntry, error) {
	var out struct {
		Equipment models.Equipment   `json:"equipment"`
		Audit     []models.AuditEntry `json:"audit"`
	}
	err := c.do(ctx, http.MethodPut, "/equipment/"+strconv.FormatInt(id, 10), map[string]interface{}{"fields": fields}, &out)
	return out.Equipment, out.Audit, err
}

func (c *Client) Delete(ctx context.Context, id int64) error {
	return c.do(ctx, http.MethodDelete, "/equipment/"+strconv.FormatInt(id, 10), nil, nil)
}

// ApplyEdits commits edits in one transaction; violations carry the 1-based edit position.
func (c *Client) ApplyEdits(ctx context.Context, edits []Edit) (models.BatchResult, error) {
	var out models.BatchResult
	err := c.do(ctx, http.MethodPost, "/equipment/batch", map[string]interface{}{"edits": edits}, &out)
	return out, err
}

func (c *Client) History(ctx context.Context, id int64) ([]models.AuditEntry, error) {
	var out []models.AuditEntry
	err := c.do(ctx, http.MethodGet, "/equipment/"+strconv.FormatInt(id, 10)+"/audit", nil, &out)
	return out, err
}

//
// ==========================
// Reports
// ==========================
//

// Audit calls GET /audit with limit, offset, equipment_id, actor, field, since.
func (c *Client) Audit(ctx context.Context, q url.Values) ([]models.AuditEntry, error) {
	var out []models.AuditEntry
	err := c.do(ctx, http.MethodGet, withQuery("/audit", q), nil, &out)
	return out, err
}

func (c *Client) Graph(ctx context.Context, q url.Values) (graph.Graph, error) {
	var out graph.Graph
	err := c.do(ctx, http.MethodGet, withQuery("/graph", q), nil, &out)
	return out, err
}

func (c *Client) Stats(ctx context.Context) (models.EquipmentStats, error) {
	var out models.EquipmentStats
	err := c.do(ctx, http.MethodGet, "/stats", nil, &out)
	return out, err
}

func (c *Client) Lookup(ctx context.Context, field, value string) (Lookup, error) {
	var out Lookup
	q := url.Values{"field": {field}, "value": {value}}
	err := c.do(ctx, http.MethodGet, withQuery("/lookup", q), nil, &out)
	return out, err
}

//
// ==========================
// Spreadsheets
// ==========================
//

// Export writes the records matching req to w as format and returns the
// file name the API suggested.
func (c *Client) Export(ctx context.Context, format string, req search.Request, w io.Writer) (string, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return "", err
	}
	resp, err := c.send(ctx, http.MethodPost, withQuery("/export", url.Values{"format": {format}}), "application/json", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if _, err := io.Copy(w, resp.Body); err != nil {
		return "", fmt.Errorf("failed to download export: %w", err)
	}
	name := "equipment." + format
	if _, params, err := mime.ParseMediaType(resp.Header.Get("Content-Disposition")); err == nil && params["filename"] != "" {
		name = params["filename"]
	}
	return name, nil
}

// Import uploads a spreadsheet. With dryRun nothing is stored.
func (c *Client) Import(ctx context.Context, filename string, r io.Reader, dryRun bool) (ImportResult, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return ImportResult{}, err
	}
	if _, err := io.Copy(fw, r); err != nil {
		return ImportResult{}, fmt.Errorf("failed to read %s: %w", filename, err)
	}
	if err := mw.WriteField("dry_run", strconv.FormatBool(dryRun)); err != nil {
		return ImportResult{}, err
	}
	if err := mw.Close(); err != nil {
		return ImportResult{}, err
	}

	resp, err := c.send(ctx, http.MethodPost, "/import", mw.FormDataContentType(), &buf)
	if err != nil {
		return ImportResult{}, err
	}
	defer resp.Body.Close()

	var out ImportResult
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return ImportResult{}, fmt.Errorf("invalid import response: %w", err)
	}
	return out, nil
}

//
// ==========================
// Transport
// ==========================
//

func (c *Client) do(ctx context.Context, method, path string, in, out interface{}) error {
	var (
		body        io.Reader
		contentType string
	)
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
		contentType = "application/json"
	}

	resp, err := c.send(ctx, method, path, contentType, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("invalid response from %s %s: %w", method, path, err)
	}
	return nil
}

// send performs the request and turns any non-2xx response into *Error.
func (c *Client) send(ctx context.Context, method, path, contentType string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return nil, err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
	if ip, _ := ctx.Value(clientIPKey{}).(string); ip != "" {
		req.Header.Set("X-Forwarded-For", ip)
	}

	client := c.HTTP
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("cannot reach API: %w", err)
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, nil
	}
	defer resp.Body.Close()
	return nil, decodeError(resp)
}

func decodeError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	var body struct {
		Error      string                `json:"error"`
		Violations validation.Violations `json:"violations"`
	}
	apiErr := &Error{Status: resp.StatusCode}
	if err := json.Unmarshal(data, &body); err == nil && body.Error != "" {
		apiErr.Message = body.Error
		apiErr.Violations = body.Violations
	} else {
		apiErr.Message = strings.TrimSpace(string(data))
	}
	if apiErr.Message == "" {
		apiErr.Message = http.StatusText(resp.StatusCode)
	}
	return apiErr
}

func withQuery(path string, q url.Values) string {
	if len(q) == 0 {
		return path
	}
	return path + "?" + q.Encode()
}
