package transfer

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
)

const (
	// DefaultTimeout bounds a single request made by NewClient's default
	// http.Client.
	DefaultTimeout = 5 * time.Minute

	listPageLimit = 100

	codeDuplicate = "DUPLICATE_IMAGE"
)

// ErrDuplicate matches a StatusError for an upload rejected because the
// server already holds the same bytes.
var ErrDuplicate = errors.New("duplicate image")

// StatusError is a non-2xx response from the server.
type StatusError struct {
	StatusCode int
	Code       string
	Message    string
	ExistingID string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server returned %d", e.StatusCode)
	}
	if e.Code == "" {
		return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("server returned %d %s: %s", e.StatusCode, e.Code, e.Message)
}

// Is reports ErrDuplicate for 409 responses.
func (e *StatusError) Is(target error) bool {
	return target == ErrDuplicate && (e.StatusCode == http.StatusConflict || e.Code == codeDuplicate)
}

// Asset is the part of a catalog record the batch tools use.
type Asset struct {
	ID             string `json:"id"`
	StoredFilename string `json:"storedFilename"`
	Folder         string `json:"folder"`
	SizeBytes      int64  `json:"sizeBytes"`
	MimeType       string `json:"mimeType"`
	ContentHash    string `json:"contentHash"`
	OriginalName   string `json:"originalName"`
}

// ListQuery filters GET /images.
type ListQuery struct {
	Page     int
	Limit    int
	Folder   string
	MimeType string
}

// Page is one page of GET /images.
type Page struct {
	Items      []Asset `json:"items"`
	Pagination struct {
		Total int `json:"total"`
		Page  int `json:"page"`
		Limit int `json:"limit"`
	} `json:"pagination"`
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Message    string `json:"message"`
		Code       string `json:"code"`
		ExistingID string `json:"existingId"`
	} `json:"error"`
}

// Client talks to an image-vault server.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient returns a client for the server at baseURL. A nil httpClient
// gets one with DefaultTimeout.
func NewClient(baseURL string, httpClient *http.Client) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse server URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("server URL %q must be http or https", baseURL)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultTimeout}
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), http: httpClient}, nil
}

// BaseURL returns the server URL without a trailing slash.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// StorageURL is where the server serves a stored original.
func (c *Client) StorageURL(folder, storedFilename string) string {
	return c.baseURL + "/storage/" + url.PathEscape(folder) + "/" + url.PathEscape(storedFilename)
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

// Upload posts content as a multipart upload. A duplicate is reported as a
// *StatusError matching ErrDuplicate.
func (c *Client) Upload(ctx context.Context, filename, mimeType, folder string, content []byte) (*Asset, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	if folder != "" {
		if err := mw.WriteField("folder", folder); err != nil {
			return nil, err
		}
	}

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition",
		fmt.Sprintf(`form-data; name="file"; filename="%s"`, quoteEscaper.Replace(filename)))
	header.Set("Content-Type", mimeType)
	part, err := mw.CreatePart(header)
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(content); err != nil {
		return nil, err
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/images", &body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var asset Asset
	if err := c.doJSON(req, &asset); err != nil {
		return nil, err
	}
	return &asset, nil
}

// List fetches one page of the catalog.
func (c *Client) List(ctx context.Context, q ListQuery) (*Page, error) {
	params := url.Values{}
	if q.Page > 0 {
		params.Set("page", strconv.Itoa(q.Page))
	}
	if q.Limit > 0 {
		params.Set("limit", strconv.Itoa(q.Limit))
	}
	if q.Folder != "" {
		params.Set("folder", q.Folder)
	}
	if q.MimeType != "" {
		params.Set("mimetype", q.MimeType)
	}

	target := c.baseURL + "/images"
	if len(params) > 0 {
		target += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, http.NoBody)
	if err != nil {
		return nil, err
	}

	var page Page
	if err := c.doJSON(req, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// ListAll pages through the catalog until every matching asset is fetched.
func (c *Client) ListAll(ctx context.Context, folder, mimeType string) ([]Asset, error) {
	var all []Asset
	for page := 1; ; page++ {
		p, err := c.List(ctx, ListQuery{Page: page, Limit: listPageLimit, Folder: folder, MimeType: mimeType})
		if err != nil {
			return nil, err
		}
		all = append(all, p.Items...)
		if len(p.Items) == 0 || len(all) >= p.Pagination.Total {
			return all, nil
		}
	}
}

// Download streams a stored original into w and returns the bytes copied.
func (c *Client) Download(ctx context.Context, folder, storedFilename string, w io.Writer) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.StorageURL(folder, storedFilename), http.NoBody)
	if err != nil {
		return 0, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("download %s: %w", storedFilename, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return 0, statusError(resp)
	}
	n, err := io.Copy(w, resp.Body)
	if err != nil {
		return n, fmt.Errorf("download %s: %w", storedFilename, err)
	}
	return n, nil
}

func (c *Client) doJSON(req *http.Request, out any) error {
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return statusError(resp)
	}

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("decode %s response: %w", req.URL.Path, err)
	}
	if !env.Success {
		return &StatusError{StatusCode: resp.StatusCode, Message: "response not marked successful"}
	}
	if out == nil || len(env.Data) == 0 {
		return nil
	}
	return json.Unmarshal(env.Data, out)
}

// statusError builds a StatusError, using the JSON error envelope when the
// server sent one.
func statusError(resp *http.Response) error {
	se := &StatusError{StatusCode: resp.StatusCode}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return se
	}
	var env envelope
	if json.Unmarshal(raw, &env) == nil && env.Error != nil {
		se.Code = env.Error.Code
		se.Message = env.Error.Message
		se.ExistingID = env.Error.ExistingID
		return se
	}
	se.Message = strings.TrimSpace(string(raw))
	if len(se.Message) > 200 {
		se.Message = se.Message[:200]
	}
	return se
}
