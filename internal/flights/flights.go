// Package flights calls the flight offers and location APIs.
package flights

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"unicode/utf8"
)

// Doer sends authorized requests. *clientcredentials.Client satisfies it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

var (
	// ErrInvalidQuery is returned when a search lacks a required field.
	ErrInvalidQuery = errors.New("invalid flight search query")

	// ErrKeywordTooShort is returned for location keywords under 2 characters.
	ErrKeywordTooShort = errors.New("query must be at least 2 characters")
)

// APIError is a non-2xx answer from the flight API.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("flight api status %d: %s", e.Status, e.Body)
}

// Query is a flight offers search.
type Query struct {
	Origin        string `json:"origin"`
	Destination   string `json:"destination"`
	DepartureDate string `json:"departureDate"`
	ReturnDate    string `json:"returnDate,omitempty"`
	Adults        int    `json:"adults,omitempty"`
}

// Validate checks required fields.
func (q Query) Validate() error {
	var missing []string
	if q.Origin == "" {
		missing = append(missing, "origin")
	}
	if q.Destination == "" {
		missing = append(missing, "destination")
	}
	if q.DepartureDate == "" {
		missing = append(missing, "departureDate")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrInvalidQuery, strings.Join(missing, ", "))
	}
	if q.Adults < 0 {
		return fmt.Errorf("%w: negative adults", ErrInvalidQuery)
	}
	return nil
}

// Client holds the API base URL and the authorized transport.
type Client struct {
	baseURL string
	doer    Doer
}

// New creates a client. baseURL is like https://api.amadeus.com.
func New(baseURL string, doer Doer) *Client {
	return &Client{baseURL: strings.TrimSuffix(baseURL, "/"), doer: doer}
}

// Search returns the raw flight offers document. Prices are requested in USD.
func (c *Client) Search(ctx context.Context, q Query) (json.RawMessage, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}

	adults := q.Adults
	if adults == 0 {
		adults = 1
	}

	params := url.Values{}
	params.Set("originLocationCode", q.Origin)
	params.Set("destinationLocationCode", q.Destination)
	params.Set("departureDate", q.DepartureDate)
	params.Set("adults", strconv.Itoa(adults))
	params.Set("currencyCode", "USD")
	if q.ReturnDate != "" {
		params.Set("returnDate", q.ReturnDate)
	}

	return c.get(ctx, "/v2/shopping/flight-offers", params)
}

// Locations returns up to 5 airports or cities matching keyword, as the
// raw JSON array found under "data".
func (c *Client) Locations(ctx context.Context, keyword string) (json.RawMessage, error) {
	if utf8.RuneCountInString(keyword) < 2 {
		return nil, ErrKeywordTooShort
	}

	params := url.Values{}
	params.Set("keyword", keyword)
	params.Set("subType", "AIRPORT,CITY")
	params.Set("page[limit]", "5")

	body, err := c.get(ctx, "/v1/reference-data/locations", params)
	if err != nil {
		return nil, err
	}

	var doc struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("locations response: %w", err)
	}
	if len(doc.Data) == 0 {
		return json.RawMessage("[]"), nil
	}
	return doc.Data, nil
}

func (c *Client) get(ctx context.Context, path string, params url.Values) (json.RawMessage, error) {
	req, errReq := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+params.Encode(), nil)
	if errReq != nil {
		return nil, errReq
	}
	req.Header.Set("Accept", "application/json")

	resp, errDo := c.doer.Do(req)
	if errDo != nil {
		return nil, errDo
	}
	defer resp.Body.Close()

	body, errBody := io.ReadAll(resp.Body)
	if errBody != nil {
		return nil, fmt.Errorf("read %s: %w", path, errBody)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &APIError{Status: resp.StatusCode, Body: string(body)}
	}

	if !json.Valid(body) {
		return nil, fmt.Errorf("%s: response is not json", path)
	}

	return body, nil
}
