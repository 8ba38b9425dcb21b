// Package httputil holds small HTTP payload helpers shared by the file-bed
// uploader and the image download pipeline.
package httputil

import (
	"errors"
	"io"
)

// DefaultMaxResponseBodyBytes caps downloaded bodies to 10MB. Generated
// images run a few MB; anything beyond this is a misbehaving server.
const DefaultMaxResponseBodyBytes int64 = 10 * 1024 * 1024

// ErrResponseBodyTooLarge reports a body that exceeded the read limit.
var ErrResponseBodyTooLarge = errors.New("response body too large")

// ReadLimitedBody reads at most maxBytes from reader. A non-positive limit
// reads everything. The truncated body is returned alongside
// ErrResponseBodyTooLarge so callers can log a prefix.
func ReadLimitedBody(reader io.Reader, maxBytes int64) ([]byte, error) {
	if maxBytes <= 0 {
		return io.ReadAll(reader)
	}

	body, err := io.ReadAll(io.LimitReader(reader, maxBytes+1))
	if err != nil {
		return body, err
	}
	if int64(len(body)) > maxBytes {
		return body[:maxBytes], ErrResponseBodyTooLarge
	}
	return body, nil
}
