// ABOUTME: Object uploads through the storage endpoint
// ABOUTME: Returns the public URL the backend serves the object from

package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

type uploadResponse struct {
	Key string `json:"Key"`
	URL string `json:"url"`
}

// Upload stores data at bucket/key and returns its public URL.
func (c *Client) Upload(ctx context.Context, bucket, key string, data []byte, contentType string) (string, error) {
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}

	resp, err := c.do(ctx, http.MethodPost, "/storage/v1/object/"+bucket+"/"+key, bytes.NewReader(data), contentType)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var out uploadResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decoding upload response: %w", err)
	}
	if out.URL == "" {
		return "", fmt.Errorf("upload response has no url")
	}
	return out.URL, nil
}
