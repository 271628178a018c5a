package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/micahchoo/troparcel/pkg/log"
	"github.com/micahchoo/troparcel/pkg/types"
)

// HTTPAdapter talks to a host application over a small JSON/REST API
// instead of an in-process function call, for hosts that expose their
// item store as a network service rather than embedding the engine
// directly. Every request retries transient failures with capped
// exponential backoff (up to three retries after the first attempt,
// capped at eight seconds) before
// surfacing the error to the caller.
type HTTPAdapter struct {
	baseURL string
	token   string
	client  *http.Client
	log     zerolog.Logger
}

// NewHTTPAdapter constructs an adapter against a host listening at
// baseURL, authenticating with token as a bearer token.
func NewHTTPAdapter(baseURL, token string) *HTTPAdapter {
	return &HTTPAdapter{
		baseURL: baseURL,
		token:   token,
		client:  &http.Client{Timeout: 15 * time.Second},
		log:     log.WithComponent("store.http"),
	}
}

func (a *HTTPAdapter) retryPolicy(ctx context.Context) backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = 250 * time.Millisecond
	eb.MaxInterval = 8 * time.Second
	eb.MaxElapsedTime = 8 * time.Second
	return backoff.WithContext(backoff.WithMaxRetries(eb, 3), ctx)
}

func (a *HTTPAdapter) do(ctx context.Context, method, path string, body, out any) error {
	var data []byte
	if body != nil {
		var err error
		data, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("store: encode request: %w", err)
		}
	}

	operation := func() error {
		var payload io.Reader // fresh reader per attempt so a retry resends the body
		if data != nil {
			payload = bytes.NewReader(data)
		}
		req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, payload)
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		if a.token != "" {
			req.Header.Set("Authorization", "Bearer "+a.token)
		}

		resp, err := a.client.Do(req)
		if err != nil {
			return err // network errors are retryable
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusNotFound {
			return backoff.Permanent(ErrNotFound)
		}
		if resp.StatusCode >= 500 {
			return fmt.Errorf("store: %s %s: server error %d", method, path, resp.StatusCode)
		}
		if resp.StatusCode >= 400 {
			return backoff.Permanent(fmt.Errorf("store: %s %s: client error %d", method, path, resp.StatusCode))
		}
		if out == nil {
			return nil
		}
		return json.NewDecoder(resp.Body).Decode(out)
	}

	err := backoff.Retry(operation, a.retryPolicy(ctx))
	if err != nil {
		a.log.Warn().Err(err).Str("method", method).Str("path", path).Msg("store request failed after retries")
	}
	return err
}

func (a *HTTPAdapter) ListItems(ctx context.Context) ([]*types.Item, error) {
	var items []*types.Item
	err := a.do(ctx, http.MethodGet, "/items", nil, &items)
	return items, err
}

func (a *HTTPAdapter) GetItem(ctx context.Context, localID string) (*types.Item, error) {
	var item types.Item
	if err := a.do(ctx, http.MethodGet, "/items/"+localID, nil, &item); err != nil {
		return nil, err
	}
	return &item, nil
}

type noteRequest struct {
	PhotoID     int    `json:"photoId"`
	SelectionID int    `json:"selectionId,omitempty"`
	HTML        string `json:"html"`
	Lang        string `json:"lang,omitempty"`
}

func (a *HTTPAdapter) UpsertNote(ctx context.Context, localID string, photoID, selectionID int, html, lang string) (int, error) {
	var resp struct {
		ID int `json:"id"`
	}
	err := a.do(ctx, http.MethodPut, "/notes/"+localID, noteRequest{PhotoID: photoID, SelectionID: selectionID, HTML: html, Lang: lang}, &resp)
	return resp.ID, err
}

func (a *HTTPAdapter) DeleteNote(ctx context.Context, noteID int) error {
	return a.do(ctx, http.MethodDelete, fmt.Sprintf("/notes/%d", noteID), nil, nil)
}

type selectionRequest struct {
	PhotoID int     `json:"photoId"`
	X       float64 `json:"x"`
	Y       float64 `json:"y"`
	W       float64 `json:"w"`
	H       float64 `json:"h"`
	Angle   float64 `json:"angle"`
}

func (a *HTTPAdapter) UpsertSelection(ctx context.Context, localID string, photoID int, x, y, w, h, angle float64) (int, error) {
	var resp struct {
		ID int `json:"id"`
	}
	err := a.do(ctx, http.MethodPut, "/selections/"+localID, selectionRequest{PhotoID: photoID, X: x, Y: y, W: w, H: h, Angle: angle}, &resp)
	return resp.ID, err
}

func (a *HTTPAdapter) DeleteSelection(ctx context.Context, selectionID int) error {
	return a.do(ctx, http.MethodDelete, fmt.Sprintf("/selections/%d", selectionID), nil, nil)
}

type transcriptionRequest struct {
	PhotoID     int    `json:"photoId"`
	SelectionID int    `json:"selectionId,omitempty"`
	Text        string `json:"text"`
	Data        string `json:"data,omitempty"`
}

func (a *HTTPAdapter) UpsertTranscription(ctx context.Context, localID string, photoID, selectionID int, text, data string) (int, error) {
	var resp struct {
		ID int `json:"id"`
	}
	err := a.do(ctx, http.MethodPut, "/transcriptions/"+localID, transcriptionRequest{PhotoID: photoID, SelectionID: selectionID, Text: text, Data: data}, &resp)
	return resp.ID, err
}

type metadataRequest struct {
	PhotoID  int    `json:"photoId,omitempty"`
	Property string `json:"property"`
	Text     string `json:"text"`
	Type     string `json:"type,omitempty"`
	Lang     string `json:"lang,omitempty"`
}

func (a *HTTPAdapter) SetMetadata(ctx context.Context, itemID, photoID int, property, text, valueType, lang string) error {
	path := fmt.Sprintf("/items/%d/metadata", itemID)
	return a.do(ctx, http.MethodPut, path, metadataRequest{PhotoID: photoID, Property: property, Text: text, Type: valueType, Lang: lang}, nil)
}

type tagRequest struct {
	Name   string `json:"name"`
	Color  string `json:"color,omitempty"`
	Active bool   `json:"active"`
}

func (a *HTTPAdapter) SetTag(ctx context.Context, itemID int, name, color string, active bool) error {
	path := fmt.Sprintf("/items/%d/tags", itemID)
	return a.do(ctx, http.MethodPut, path, tagRequest{Name: name, Color: color, Active: active}, nil)
}

type listMembershipRequest struct {
	ListName string `json:"listName"`
	Member   bool   `json:"member"`
}

func (a *HTTPAdapter) SetListMembership(ctx context.Context, itemID int, listName string, member bool) error {
	path := fmt.Sprintf("/items/%d/lists", itemID)
	return a.do(ctx, http.MethodPut, path, listMembershipRequest{ListName: listName, Member: member}, nil)
}

// SuppressChanges has no host-side change feed to suppress over plain
// HTTP (there is no push channel from the host back to us beyond what
// the sync engine itself polls for), so it is a no-op bracket.
func (a *HTTPAdapter) SuppressChanges() func() {
	return func() {}
}

// Subscribe has nothing to subscribe to: plain HTTP carries no push
// channel from the host. callback is never invoked; the engine must
// rely on its safety-net timer to notice changes against this adapter.
func (a *HTTPAdapter) Subscribe(callback func()) func() {
	return func() {}
}
