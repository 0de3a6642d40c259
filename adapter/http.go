package adapter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// HTTPAdapter reads pages from a REST endpoint. It recognizes three
// response shapes: the item array under "data" or "items" (or the
// whole decoded body, if neither key is present — the ProtocolMismatch
// fallback), and an optional "meta" object carrying
// total/cursor/nextCursor/hasNext.
type HTTPAdapter struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client

	// PageParam/LimitParam/OffsetParam/CursorParam override the query
	// string keys used for each Strategy; defaults match common REST
	// paging conventions.
	PageParam   string
	LimitParam  string
	OffsetParam string
	CursorParam string
}

// NewHTTPAdapter builds an HTTPAdapter with a 30s timeout client.
func NewHTTPAdapter(baseURL string) *HTTPAdapter {
	return &HTTPAdapter{
		BaseURL:    baseURL,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
	}
}

func (a *HTTPAdapter) SetToken(token string) { a.Token = token }

func (a *HTTPAdapter) Read(ctx context.Context, params Params) (Response, error) {
	req, err := a.buildRequest(ctx, params)
	if err != nil {
		return Response{}, fmt.Errorf("build request: %w", err)
	}

	resp, err := a.HTTPClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return Response{}, &AbortError{Cause: ctx.Err()}
		}
		return Response{}, fmt.Errorf("read: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Response{}, a.parseError(resp)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Response{}, fmt.Errorf("read body: %w", err)
	}
	return decodeResponse(body)
}

func (a *HTTPAdapter) buildRequest(ctx context.Context, params Params) (*http.Request, error) {
	q := url.Values{}
	limitKey := a.LimitParam
	if limitKey == "" {
		limitKey = "limit"
	}
	if params.Limit > 0 {
		q.Set(limitKey, strconv.FormatUint(params.Limit, 10))
	}

	switch params.Strategy {
	case StrategyPage:
		key := a.PageParam
		if key == "" {
			key = "page"
		}
		q.Set(key, strconv.FormatUint(params.Page, 10))
	case StrategyCursor:
		if params.Cursor != "" {
			key := a.CursorParam
			if key == "" {
				key = "cursor"
			}
			q.Set(key, params.Cursor)
		}
	default:
		key := a.OffsetParam
		if key == "" {
			key = "offset"
		}
		q.Set(key, strconv.FormatUint(params.Offset, 10))
	}

	full := a.BaseURL + "?" + q.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, full, nil)
	if err != nil {
		return nil, err
	}
	a.setHeaders(req)
	return req, nil
}

func (a *HTTPAdapter) setHeaders(req *http.Request) {
	if a.Token != "" {
		req.Header.Set("Authorization", "Bearer "+a.Token)
	}
	req.Header.Set("Accept", "application/json")
}

func (a *HTTPAdapter) parseError(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)
	var apiErr struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if json.Unmarshal(body, &apiErr) == nil && (apiErr.Error != "" || apiErr.Message != "") {
		return fmt.Errorf("adapter %d: %s%s", resp.StatusCode, apiErr.Error, apiErr.Message)
	}
	return fmt.Errorf("adapter %d: %s", resp.StatusCode, string(body))
}

type envelope struct {
	Data  json.RawMessage `json:"data"`
	Items json.RawMessage `json:"items"`
	Meta  *struct {
		Total      *int    `json:"total"`
		Cursor     *string `json:"cursor"`
		NextCursor *string `json:"nextCursor"`
		HasNext    *bool   `json:"hasNext"`
	} `json:"meta"`
}

// decodeResponse tries "data", then "items", then treats the whole
// payload as the item array (ProtocolMismatch recovery).
func decodeResponse(body []byte) (Response, error) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		// A bare array is valid JSON that just isn't an object; fall
		// through to the whole-payload case below.
		var typeErr *json.UnmarshalTypeError
		if !errors.As(err, &typeErr) {
			return Response{}, fmt.Errorf("decode: %w", err)
		}
		env = envelope{}
	}

	raw := env.Data
	if len(raw) == 0 {
		raw = env.Items
	}
	if len(raw) == 0 {
		raw = body
	}

	var rawItems []json.RawMessage
	if err := json.Unmarshal(raw, &rawItems); err != nil {
		return Response{}, errors.New("adapter: response is neither a data/items envelope nor a bare array")
	}

	items := make([]any, len(rawItems))
	for i, r := range rawItems {
		var v any
		if err := json.Unmarshal(r, &v); err != nil {
			return Response{}, fmt.Errorf("decode item %d: %w", i, err)
		}
		items[i] = v
	}

	resp := Response{Items: items}
	if env.Meta != nil {
		resp.Total = env.Meta.Total
		resp.HasNext = env.Meta.HasNext
		if env.Meta.Cursor != nil {
			resp.Cursor = env.Meta.Cursor
		} else if env.Meta.NextCursor != nil {
			resp.Cursor = env.Meta.NextCursor
		}
	}
	return resp, nil
}
