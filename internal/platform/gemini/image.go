package gemini

import (
	"bytes"
	"encoding/base64"
	"image"
	"image/jpeg"
	"image/png"

	"github.com/nfnt/resize"
	"go.uber.org/zap"
)

// shrinkImage downsizes an encoded image to maxWidth, keeping the aspect
// ratio. Images that are already small enough, or that cannot be decoded,
// are returned unchanged.
func shrinkImage(data []byte, mimeType string, maxWidth uint, log *zap.Logger) ([]byte, string) {
	if mimeType == "" {
		mimeType = "image/png"
	}
	if maxWidth == 0 {
		return data, mimeType
	}

	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		log.Debug("keeping undecodable image as is", zap.String("mime", mimeType), zap.Error(err))
		return data, mimeType
	}
	if uint(img.Bounds().Dx()) <= maxWidth {
		return data, mimeType
	}

	img = resize.Resize(maxWidth, 0, img, resize.Lanczos3)

	var buf bytes.Buffer
	outMime := "image/png"
	if format == "jpeg" {
		outMime = "image/jpeg"
		err = jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90})
	} else {
		err = png.Encode(&buf, img)
	}
	if err != nil {
		log.Warn("failed to encode resized image", zap.Error(err))
		return data, mimeType
	}
	return buf.Bytes(), outMime
}

func dataURL(mimeType string, data []byte) string {
	return "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(data)
}
