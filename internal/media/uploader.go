package media

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"strings"
	"time"

	"Parley/internal/model"

	"github.com/dustin/go-humanize"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"
)

var (
	ErrUploadFailed = errors.New("media upload failed")
	ErrTooLarge     = errors.New("file exceeds the upload size limit")
	ErrEmptyFile    = errors.New("file is empty")
)

const defaultUploadTimeout = 60 * time.Second

// File is an attachment waiting to be uploaded.
type File struct {
	Name        string
	ContentType string
	Data        []byte
}

// Uploader stores a file on the media host and returns its public URL.
// Uploads are single attempts.
type Uploader interface {
	Upload(ctx context.Context, file File, kind model.MediaKind, folder string) (string, error)
}

type Config struct {
	BaseURL      string
	CloudName    string
	UploadPreset string
	MaxSize      int64
	Timeout      time.Duration
}

type hostUploader struct {
	client *fasthttp.Client
	cfg    Config
	logger *zap.Logger
}

// NewUploader posts multipart uploads to {BaseURL}/{CloudName}/{kind}/upload.
func NewUploader(cfg Config, logger *zap.Logger) Uploader {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultUploadTimeout
	}
	return &hostUploader{
		client: &fasthttp.Client{
			Name:                "parley-media",
			MaxResponseBodySize: 1 << 20,
		},
		cfg:    cfg,
		logger: logger,
	}
}

// KindFor maps a MIME type to the host resource type.
func KindFor(contentType string) model.MediaKind {
	switch {
	case strings.HasPrefix(contentType, "image/"):
		return model.MediaImage
	case strings.HasPrefix(contentType, "video/"):
		return model.MediaVideo
	}
	return model.MediaRaw
}

type uploadResponse struct {
	SecureURL string `json:"secure_url"`
	Error     *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (u *hostUploader) Upload(ctx context.Context, file File, kind model.MediaKind, folder string) (string, error) {
	if len(file.Data) == 0 {
		return "", ErrEmptyFile
	}
	if u.cfg.MaxSize > 0 && int64(len(file.Data)) > u.cfg.MaxSize {
		return "", fmt.Errorf("%w: %s > %s", ErrTooLarge,
			humanize.Bytes(uint64(len(file.Data))), humanize.Bytes(uint64(u.cfg.MaxSize)))
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	body, contentType, err := u.form(file, folder)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUploadFailed, err)
	}

	endpoint := fmt.Sprintf("%s/%s/%s/upload", strings.TrimRight(u.cfg.BaseURL, "/"), u.cfg.CloudName, kind)

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(endpoint)
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.SetContentType(contentType)
	req.SetBody(body)

	deadline := time.Now().Add(u.cfg.Timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	start := time.Now()
	if err := u.client.DoDeadline(req, resp, deadline); err != nil {
		u.logger.Warn("media upload request failed", zap.String("kind", string(kind)), zap.Error(err))
		return "", fmt.Errorf("%w: %v", ErrUploadFailed, err)
	}

	var out uploadResponse
	if err := json.Unmarshal(resp.Body(), &out); err != nil {
		return "", fmt.Errorf("%w: status %d: undecodable response", ErrUploadFailed, resp.StatusCode())
	}
	if resp.StatusCode() != fasthttp.StatusOK || out.SecureURL == "" {
		msg := "no url returned"
		if out.Error != nil {
			msg = out.Error.Message
		}
		u.logger.Warn("media host rejected upload",
			zap.Int("status", resp.StatusCode()),
			zap.String("message", msg),
		)
		return "", fmt.Errorf("%w: status %d: %s", ErrUploadFailed, resp.StatusCode(), msg)
	}

	u.logger.Info("media uploaded",
		zap.String("kind", string(kind)),
		zap.String("size", humanize.Bytes(uint64(len(file.Data)))),
		zap.Duration("took", time.Since(start)),
	)
	return out.SecureURL, nil
}

func (u *hostUploader) form(file File, folder string) ([]byte, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	part, err := w.CreateFormFile("file", file.Name)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(file.Data); err != nil {
		return nil, "", err
	}
	if err := w.WriteField("upload_preset", u.cfg.UploadPreset); err != nil {
		return nil, "", err
	}
	if folder != "" {
		if err := w.WriteField("folder", folder); err != nil {
			return nil, "", err
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), w.FormDataContentType(), nil
}
