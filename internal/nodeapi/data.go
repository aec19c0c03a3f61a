package nodeapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
)

// DataItem is one entry returned by GET /data — a locally-stored CID,
// optionally annotated with manifest metadata if the node has it.
type DataItem struct {
	CID      string        `json:"cid"`
	Manifest *ItemManifest `json:"manifest,omitempty"`
}

// ItemManifest is the node's own per-blob metadata, distinct from this
// repository's Manifest type.
type ItemManifest struct {
	Filename    *string `json:"filename,omitempty"`
	MimeType    *string `json:"mimetype,omitempty"`
	DatasetSize *uint64 `json:"datasetSize,omitempty"`
	Protected   *bool   `json:"protected,omitempty"`
}

// ListData returns every CID the node currently holds locally. The node's
// REST response is a single JSON array, so the listing is materialized in
// one call; there is no paging in the current node API.
func (c *Client) ListData(ctx context.Context) ([]DataItem, error) {
	resp, err := c.do(ctx, http.MethodGet, "/data", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var body struct {
		Content []DataItem `json:"content"`
	}

	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("nodeapi: %w: decoding data list: %w", ErrDecode, err)
	}

	return body.Content, nil
}

// Upload streams path's contents to the node as a new blob, returning the
// assigned CID. progress, if non-nil, receives throttled updates. The
// request body is streamed directly from the open file handle —
// constant memory regardless of file size.
func (c *Client) Upload(ctx context.Context, path string, progress ProgressFunc) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("nodeapi: opening %s for upload: %w", path, err)
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return "", fmt.Errorf("nodeapi: stat %s: %w", path, err)
	}

	size := stat.Size()

	ctx, cancel := context.WithTimeout(ctx, uploadTimeout(size))
	defer cancel()

	throttle := newProgressThrottle(size)

	body := &progressReader{
		r: f,
		onRead: func(n int64, total int64) {
			throttle.maybeReport(progress, n, n >= total)
		},
		total: size,
	}

	contentType := mimeTypeForPath(path)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/data", body)
	if err != nil {
		return "", fmt.Errorf("nodeapi: creating upload request: %w", err)
	}

	req.ContentLength = size
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, url.QueryEscape(filepath.Base(path))))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("nodeapi: %w: upload request: %w", ErrTransport, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		errBody, _ := io.ReadAll(resp.Body)

		return "", &APIError{StatusCode: resp.StatusCode, Body: string(errBody), Err: classifyStatus(resp.StatusCode)}
	}

	cidBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("nodeapi: %w: reading upload response: %w", ErrDecode, err)
	}

	return string(cidBytes), nil
}

// mimeTypeForPath derives a content-type from a file's extension, falling
// back to application/octet-stream for unknown types.
func mimeTypeForPath(path string) string {
	if t := mime.TypeByExtension(filepath.Ext(path)); t != "" {
		return t
	}

	return "application/octet-stream"
}

// progressReader wraps an io.Reader, invoking onRead with cumulative bytes
// read after each Read call. Uploads are never retried once the reader has
// been partially consumed; a half-read streaming body cannot be replayed.
type progressReader struct {
	r     io.Reader
	total int64
	read  int64

	onRead func(read, total int64)
}

func (p *progressReader) Read(buf []byte) (int, error) {
	n, err := p.r.Read(buf)
	p.read += int64(n)

	if p.onRead != nil {
		p.onRead(p.read, p.total)
	}

	return n, err
}

// DownloadToPath streams the blob addressed by cid directly to dest,
// constant memory, never buffering the whole file.
func (c *Client) DownloadToPath(ctx context.Context, cid, dest string) error {
	resp, err := c.do(ctx, http.MethodGet, "/data/"+url.PathEscape(cid), nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("nodeapi: creating destination directory: %w", err)
	}

	tmp := dest + ".part"

	out, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("nodeapi: creating %s: %w", tmp, err)
	}

	if _, err := io.Copy(out, resp.Body); err != nil {
		out.Close()
		os.Remove(tmp)

		return fmt.Errorf("nodeapi: streaming download to %s: %w", tmp, err)
	}

	if err := out.Close(); err != nil {
		os.Remove(tmp)

		return fmt.Errorf("nodeapi: closing %s: %w", tmp, err)
	}

	if err := os.Rename(tmp, dest); err != nil {
		return fmt.Errorf("nodeapi: renaming %s to %s: %w", tmp, dest, err)
	}

	return nil
}

// RequestNetworkFetch asks the node to retrieve cid from its peer network
// and store it locally. It returns once the request is accepted — it does
// not wait for the fetch itself to complete.
func (c *Client) RequestNetworkFetch(ctx context.Context, cid string) error {
	ctx, cancel := context.WithTimeout(ctx, networkFetchTimeout)
	defer cancel()

	resp, err := c.do(ctx, http.MethodPost, "/data/"+url.PathEscape(cid)+"/network", nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	return nil
}

// Delete removes a locally-stored blob by CID.
func (c *Client) Delete(ctx context.Context, cid string) error {
	resp, err := c.do(ctx, http.MethodDelete, "/data/"+url.PathEscape(cid), nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	return nil
}
