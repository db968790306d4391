// Package sheetapi is the low-level HTTP client for the spreadsheet-style
// sync target API. It supplies the field-id/field-name reference type and
// classifies 422 errors (Classify); the recovery ladder that acts on that
// classification lives in sheetstore.
package sheetapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// Client talks to one sheet-API base (one "base id" in Airtable's terms).
type Client struct {
	baseURL    string
	baseID     string
	httpClient *http.Client
	getToken   func() (string, error)
	limiter    *rate.Limiter
}

// NewClient creates a sheet-API client. limiter enforces the sheet
// side's rate limit, since its rate limits would interact badly with
// parallel per-record writes.
func NewClient(baseURL, baseID string, getToken func() (string, error), limiter *rate.Limiter) *Client {
	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		baseID:     baseID,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		getToken:   getToken,
		limiter:    limiter,
	}
}

// RawRecord is one record as returned by the sheet API's list/get calls.
type RawRecord struct {
	ID          string                 `json:"id"`
	CreatedTime string                 `json:"createdTime"`
	Fields      map[string]any         `json:"fields"`
	FieldsByID  map[string]any         `json:"fieldsById,omitempty"`
}

type listResponse struct {
	Records []RawRecord `json:"records"`
	Offset  string      `json:"offset,omitempty"`
}

// FieldRef is a tagged field reference: a field addressed either by its
// sheet field name or by its opaque field id.
type FieldRef struct {
	byID bool
	val  string
}

func ByName(name string) FieldRef { return FieldRef{byID: false, val: name} }
func ByID(id string) FieldRef     { return FieldRef{byID: true, val: id} }

// List fetches every record in a table, paging until the offset cursor
// is exhausted. byFieldID requests the parallel field-id-keyed
// representation as well.
func (c *Client) List(ctx context.Context, tableIDOrName string, byFieldID bool) ([]RawRecord, error) {
	var all []RawRecord
	offset := ""

	for {
		if err := c.wait(ctx); err != nil {
			return nil, err
		}

		reqURL := fmt.Sprintf("%s/v0/%s/%s", c.baseURL, c.baseID, url.PathEscape(tableIDOrName))
		q := url.Values{}
		if offset != "" {
			q.Set("offset", offset)
		}
		if byFieldID {
			q.Set("returnFieldsByFieldId", "true")
		}
		if enc := q.Encode(); enc != "" {
			reqURL += "?" + enc
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
		if err != nil {
			return nil, err
		}
		if err := c.authorize(req); err != nil {
			return nil, err
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("sheetapi: list request failed: %w", err)
		}

		var body listResponse
		status, raw, err := decodeOrError(resp)
		if err != nil {
			return nil, fmt.Errorf("sheetapi: list %s returned status %d: %w", tableIDOrName, status, err)
		}
		if err := json.Unmarshal(raw, &body); err != nil {
			return nil, fmt.Errorf("sheetapi: failed to parse list response: %w", err)
		}

		all = append(all, body.Records...)
		if body.Offset == "" {
			break
		}
		offset = body.Offset
	}

	return all, nil
}

// Create writes a new record. fields is keyed by sheet field name.
func (c *Client) Create(ctx context.Context, tableIDOrName string, fields map[string]any) (RawRecord, error) {
	if err := c.wait(ctx); err != nil {
		return RawRecord{}, err
	}

	reqURL := fmt.Sprintf("%s/v0/%s/%s", c.baseURL, c.baseID, url.PathEscape(tableIDOrName))
	body, _ := json.Marshal(map[string]any{"fields": fields})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, bytes.NewReader(body))
	if err != nil {
		return RawRecord{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	if err := c.authorize(req); err != nil {
		return RawRecord{}, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return RawRecord{}, fmt.Errorf("sheetapi: create request failed: %w", err)
	}

	status, raw, err := decodeOrError(resp)
	if err != nil {
		return RawRecord{}, &APIError{StatusCode: status, Body: raw, err: err}
	}

	var rec RawRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return RawRecord{}, fmt.Errorf("sheetapi: failed to parse create response: %w", err)
	}
	return rec, nil
}

// Update patches an existing record in place. fields is keyed by sheet
// field name (or id, if the caller already translated).
func (c *Client) Update(ctx context.Context, tableIDOrName, recordID string, fields map[string]any) (RawRecord, error) {
	if err := c.wait(ctx); err != nil {
		return RawRecord{}, err
	}

	reqURL := fmt.Sprintf("%s/v0/%s/%s/%s", c.baseURL, c.baseID, url.PathEscape(tableIDOrName), url.PathEscape(recordID))
	body, _ := json.Marshal(map[string]any{"fields": fields})

	req, err := http.NewRequestWithContext(ctx, http.MethodPatch, reqURL, bytes.NewReader(body))
	if err != nil {
		return RawRecord{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	if err := c.authorize(req); err != nil {
		return RawRecord{}, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return RawRecord{}, fmt.Errorf("sheetapi: update request failed: %w", err)
	}

	status, raw, err := decodeOrError(resp)
	if err != nil {
		return RawRecord{}, &APIError{StatusCode: status, Body: raw, err: err}
	}

	var rec RawRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return RawRecord{}, fmt.Errorf("sheetapi: failed to parse update response: %w", err)
	}
	return rec, nil
}

func (c *Client) authorize(req *http.Request) error {
	token, err := c.getToken()
	if err != nil {
		return fmt.Errorf("sheetapi: failed to get token: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	return nil
}

func (c *Client) wait(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	return c.limiter.Wait(ctx)
}

// decodeOrError reads the body and returns an error for any non-2xx
// status, leaving the body available for the caller's error classifier.
func decodeOrError(resp *http.Response) (int, []byte, error) {
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("failed to read response body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp.StatusCode, raw, fmt.Errorf("status %d: %s", resp.StatusCode, string(raw))
	}
	return resp.StatusCode, raw, nil
}
