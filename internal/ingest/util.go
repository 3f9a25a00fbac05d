package ingest

import (
	"net/http"
	"time"
)

func toHeader(src map[string]string) http.Header {
	if len(src) == 0 {
		return nil
	}
	h := make(http.Header, len(src))
	for k, v := range src {
		h.Set(k, v)
	}
	return h
}

// SystemClock implements Clock with the wall clock in UTC.
type SystemClock struct{}

// Now returns the current UTC time.
func (SystemClock) Now() time.Time {
	return time.Now().UTC()
}
