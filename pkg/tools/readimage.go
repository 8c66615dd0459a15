package tools

import (
	"context"
	"encoding/base64"
	"os"
	"path/filepath"
	"strings"

	"github.com/h2non/filetype"

	"github.com/deskhand/deskhand/pkg/fault"
	"github.com/deskhand/deskhand/pkg/pathguard"
	"github.com/deskhand/deskhand/pkg/session"
)

// supportedImageMIMEs are the image types the tool will return.
var supportedImageMIMEs = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/gif":  true,
	"image/webp": true,
}

var extensionMIMEs = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".webp": "image/webp",
}

// ReadImage returns an image file as base64 with its sniffed MIME type.
func (svc *Service) ReadImage(ctx context.Context, in ReadImageInput) (ReadImageResult, error) {
	var result ReadImageResult
	err := svc.withSession(in.ThreadID, func(sess *session.Session) error {
		resolved := pathguard.Resolve(in.FilePath, sess.CWD)

		info, err := os.Stat(resolved)
		if err != nil {
			return fault.Wrap(fault.FileAccess, err, "file does not exist")
		}
		if !info.Mode().IsRegular() {
			return fault.New(fault.FileAccess, "path exists but is not a regular file")
		}
		if info.Size() > svc.cfg.MaxFileSize {
			return fault.New(fault.FileTooLarge,
				"image is %d bytes, exceeding the %d byte limit", info.Size(), svc.cfg.MaxFileSize)
		}

		data, err := os.ReadFile(resolved)
		if err != nil {
			return fault.Wrap(fault.FileAccess, err, "reading %s", resolved)
		}

		// Sniff magic bytes; fall back to the extension for oddly framed files.
		mime := ""
		if kind, err := filetype.Match(data); err == nil && kind != filetype.Unknown {
			mime = kind.MIME.Value
		}
		if !supportedImageMIMEs[mime] {
			ext := strings.ToLower(filepath.Ext(resolved))
			fallback, ok := extensionMIMEs[ext]
			if !ok {
				return fault.New(fault.FileAccess,
					"unsupported image type (want png, jpeg, gif or webp)")
			}
			mime = fallback
		}

		result = ReadImageResult{
			MIME:   mime,
			Base64: base64.StdEncoding.EncodeToString(data),
		}
		return nil
	})
	return result, err
}
