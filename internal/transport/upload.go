package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"sync/atomic"
)

// ProgressFunc receives the bytes sent so far and the total request size.
type ProgressFunc func(sent, total int64)

// Upload is a file to upload.
type Upload struct {
	Name     string
	MimeType string
	Content  io.Reader

	// Thumbnail is an optional pre-rendered thumbnail sent alongside
	// image uploads.
	Thumbnail []byte
}

// progressReader counts bytes as the HTTP transport consumes the body.
type progressReader struct {
	r     io.Reader
	sent  atomic.Int64
	total int64
	fn    ProgressFunc
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 && p.fn != nil {
		p.fn(p.sent.Add(int64(n)), p.total)
	}

	return n, err
}

// UploadImage uploads an image to the channel's CDN bucket.
func (c *Client) UploadImage(ctx context.Context, channelType, channelID string, up Upload, progress ProgressFunc) (UploadResult, error) {
	return c.upload(ctx, channelPath(channelType, channelID)+"/image", up, progress)
}

// UploadFile uploads any other file.
func (c *Client) UploadFile(ctx context.Context, channelType, channelID string, up Upload, progress ProgressFunc) (UploadResult, error) {
	return c.upload(ctx, channelPath(channelType, channelID)+"/file", up, progress)
}

func (c *Client) upload(ctx context.Context, endpoint string, up Upload, progress ProgressFunc) (UploadResult, error) {
	body, contentType, err := multipartBody(up)
	if err != nil {
		return UploadResult{}, fmt.Errorf("building upload of %s: %w", up.Name, err)
	}

	size := int64(body.Len())
	reader := &progressReader{r: body, total: size, fn: progress}

	var resp UploadResult
	if err := c.do(ctx, http.MethodPost, endpoint, nil, reader, size, contentType, &resp); err != nil {
		return UploadResult{}, fmt.Errorf("uploading %s: %w", up.Name, err)
	}

	return resp, nil
}

func multipartBody(up Upload) (*bytes.Buffer, string, error) {
	var buf bytes.Buffer

	w := multipart.NewWriter(&buf)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, up.Name))

	mimeType := up.MimeType
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}

	h.Set("Content-Type", mimeType)

	part, err := w.CreatePart(h)
	if err != nil {
		return nil, "", err
	}

	if _, err := io.Copy(part, up.Content); err != nil {
		return nil, "", fmt.Errorf("reading content: %w", err)
	}

	if len(up.Thumbnail) > 0 {
		thumb, err := w.CreateFormFile("thumbnail", "thumb_"+up.Name)
		if err != nil {
			return nil, "", err
		}

		if _, err := thumb.Write(up.Thumbnail); err != nil {
			return nil, "", err
		}
	}

	if err := w.Close(); err != nil {
		return nil, "", err
	}

	return &buf, w.FormDataContentType(), nil
}
