package testutil

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"appmanager/internal/errors"
)

// NewJSONRequest creates a new HTTP request with JSON body
func NewJSONRequest(method, url string, body interface{}) (*http.Request, error) {
	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = bytes.NewBufferString(b)
	default:
		data, err := json.Marshal(b)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		return nil, err
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return req, nil
}

// Serve sends a JSON request to handler and records the response.
// A string body is sent verbatim.
func Serve(t *testing.T, handler http.Handler, method, url string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	req, err := NewJSONRequest(method, url, body)
	if err != nil {
		t.Fatalf("Failed to build request: %v", err)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

// DecodeJSON decodes JSON from a reader
func DecodeJSON(r io.Reader, v interface{}) error {
	return json.NewDecoder(r).Decode(v)
}

// DecodeResponse decodes a recorded JSON body into v
func DecodeResponse(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := DecodeJSON(rec.Body, v); err != nil {
		t.Fatalf("Failed to decode response %q: %v", rec.Body.String(), err)
	}
}

// ParseErrorResponse decodes the error envelope of a recorded response
func ParseErrorResponse(t *testing.T, rec *httptest.ResponseRecorder) errors.HTTPErrorResponse {
	t.Helper()
	var errResp errors.HTTPErrorResponse
	DecodeResponse(t, rec, &errResp)
	return errResp
}
