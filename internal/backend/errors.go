package backend

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/elastic/go-elasticsearch/v8/esapi"
)

// HTTPStatusError represents a non-2xx response from the engine.
// The raw body is kept so callers can log the engine's own diagnostic.
type HTTPStatusError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.URL == "" {
		if e.Body == "" {
			return fmt.Sprintf("http status %d", e.StatusCode)
		}
		return fmt.Sprintf("http status %d: %s", e.StatusCode, e.Body)
	}
	if e.Body == "" {
		return fmt.Sprintf("http %s returned status %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("http %s returned status %d: %s", e.URL, e.StatusCode, e.Body)
}

// IsNotFound reports whether err is a 404 from the engine.
func IsNotFound(err error) bool {
	var httpErr *HTTPStatusError
	return errors.As(err, &httpErr) && httpErr.StatusCode == http.StatusNotFound
}

// statusError drains an error response into an *HTTPStatusError.
func statusError(res *esapi.Response, op string) error {
	body, _ := io.ReadAll(res.Body)
	return &HTTPStatusError{
		StatusCode: res.StatusCode,
		URL:        op,
		Body:       string(body),
	}
}
