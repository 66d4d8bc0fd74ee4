package knowledge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/lazypower/stage0/internal/memory"
)

const httpTimeout = 5 * time.Second

// HTTP is a Store backed by a remote knowledge service speaking JSON:
//
//	GET  /memories?domain=&tag=&keyword=&limit=
//	GET  /memories/{id}
//	POST /memories
//	PUT  /memories/{id}
//	POST /relationships
type HTTP struct {
	http    *http.Client
	baseURL string
}

// NewHTTP creates a client for the knowledge service at baseURL.
func NewHTTP(baseURL string) *HTTP {
	return &HTTP{
		http:    &http.Client{Timeout: httpTimeout},
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

// statusError carries a non-2xx response.
type statusError struct {
	Method, Path string
	Code         int
	Body         string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.Path, e.Code, e.Body)
}

func (c *HTTP) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal %s: %w", path, err)
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request %s: %w", path, err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response %s: %w", path, err)
	}
	if resp.StatusCode >= 400 {
		return &statusError{Method: method, Path: path, Code: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}
	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("decode %s: %w", path, err)
		}
	}
	return nil
}

func (c *HTTP) Search(ctx context.Context, q Query) ([]memory.Memory, error) {
	v := url.Values{}
	if q.Domain != "" {
		v.Set("domain", q.Domain)
	}
	for _, t := range q.Tags {
		v.Add("tag", t)
	}
	for _, k := range q.Keywords {
		v.Add("keyword", k)
	}
	if q.Limit > 0 {
		v.Set("limit", strconv.Itoa(q.Limit))
	}
	path := "/memories"
	if len(v) > 0 {
		path += "?" + v.Encode()
	}

	var out []memory.Memory
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	SortMemories(out)
	return out, nil
}

func (c *HTTP) Get(ctx context.Context, id string) (*memory.Memory, error) {
	var m memory.Memory
	err := c.do(ctx, http.MethodGet, "/memories/"+url.PathEscape(id), nil, &m)
	if se, ok := err.(*statusError); ok && se.Code == http.StatusNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (c *HTTP) Create(ctx context.Context, m *memory.Memory) error {
	return c.do(ctx, http.MethodPost, "/memories", m, m)
}

func (c *HTTP) Update(ctx context.Context, m *memory.Memory) error {
	err := c.do(ctx, http.MethodPut, "/memories/"+url.PathEscape(m.ID), m, m)
	if se, ok := err.(*statusError); ok && se.Code == http.StatusNotFound {
		return fmt.Errorf("update memory %s: %w", m.ID, ErrNotFound)
	}
	return err
}

func (c *HTTP) PutRelationship(ctx context.Context, l memory.Link) error {
	return c.do(ctx, http.MethodPost, "/relationships", l, nil)
}

// Healthy checks if the knowledge service is reachable.
func (c *HTTP) Healthy(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}
