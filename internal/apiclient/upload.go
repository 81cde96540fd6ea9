package apiclient

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"sync"

	"segclient/internal/metrics"
	"segclient/pkg/types"
)

// UploadImage sends r as multipart field "file". progress, when non-nil,
// is called with monotonically increasing percentages as the body is
// consumed by the transport, and with 100 once the server accepted it.
func (c *Client) UploadImage(ctx context.Context, filename, contentType string, r io.Reader, progress func(percent int)) (*types.ImageUploadResponse, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, escapeQuotes(filename)))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	h.Set("Content-Type", contentType)
	part, err := mw.CreatePart(h)
	if err != nil {
		return nil, fmt.Errorf("apiclient: create form part: %w", err)
	}
	n, err := io.Copy(part, r)
	if err != nil {
		return nil, fmt.Errorf("apiclient: read upload: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("apiclient: close form: %w", err)
	}

	body := &progressReader{r: bytes.NewReader(buf.Bytes()), total: int64(buf.Len()), fn: progress}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+apiPrefix+"/images/upload", body)
	if err != nil {
		return nil, fmt.Errorf("apiclient: create request: %w", err)
	}
	req.ContentLength = int64(buf.Len())
	req.Header.Set("Content-Type", mw.FormDataContentType())
	body.report(0)

	var resp types.ImageUploadResponse
	if err := c.do(ctx, "upload_image", req, &resp); err != nil {
		return nil, err
	}
	metrics.UploadBytes(int(n))
	if !resp.Success || resp.Image == nil {
		msg := resp.Message
		if msg == "" {
			msg = "upload rejected"
		}
		return nil, &Error{StatusCode: http.StatusOK, Code: "upload_failed", Message: msg}
	}
	body.report(100)
	c.remember(*resp.Image)
	return &resp, nil
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func escapeQuotes(s string) string { return quoteEscaper.Replace(s) }

// progressReader reports the share of the body read so far. Reads up to
// the last byte are capped at 99 so that 100 means "accepted".
type progressReader struct {
	r     io.Reader
	total int64
	fn    func(int)

	mu   sync.Mutex
	read int64
	last int
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 && p.total > 0 {
		p.mu.Lock()
		p.read += int64(n)
		pct := int(p.read * 100 / p.total)
		p.mu.Unlock()
		if pct > 99 {
			pct = 99
		}
		p.report(pct)
	}
	return n, err
}

func (p *progressReader) report(pct int) {
	if p.fn == nil {
		return
	}
	p.mu.Lock()
	if pct < p.last || (pct == p.last && pct != 0) {
		p.mu.Unlock()
		return
	}
	p.last = pct
	p.mu.Unlock()
	p.fn(pct)
}
