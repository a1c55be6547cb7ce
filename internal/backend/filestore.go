package backend

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
)

// FileStore uploads binary objects (survey photos) to object storage and
// returns their public URL. Separate from the row API so the photo queue
// can be pointed at a different storage backend in tests.
type FileStore interface {
	Put(ctx context.Context, bucket, name, contentType string, r io.Reader) (string, error)
}

// Put uploads an object to the data service's storage endpoint and returns
// its public URL.
func (c *Client) Put(ctx context.Context, bucket, name, contentType string, r io.Reader) (string, error) {
	// Object names may contain path separators (record-id prefixes), so
	// only the bucket is escaped.
	endpoint := fmt.Sprintf("%s/storage/v1/object/%s/%s",
		c.BaseURL, url.PathEscape(bucket), name)

	headers := map[string]string{"Content-Type": contentType}
	if _, err := c.do(ctx, http.MethodPost, endpoint, r, headers); err != nil {
		return "", fmt.Errorf("upload %s/%s: %w", bucket, name, err)
	}

	return fmt.Sprintf("%s/storage/v1/object/public/%s/%s",
		c.BaseURL, url.PathEscape(bucket), name), nil
}
