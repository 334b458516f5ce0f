package utils

import (
	"encoding/base64"
	"fmt"
	"image"
	"strings"
)

// BuildDataURI - base64 payload를 data URI로 조립
func BuildDataURI(mimeType, base64Data string) string {
	if mimeType == "" {
		mimeType = "image/png"
	}
	return fmt.Sprintf("data:%s;base64,%s", mimeType, base64Data)
}

// ParseDataURI - data:<mime>;base64,<payload> 형태를 분해
// 헤더를 해석할 수 없으면 에러 (continue-editing 입력 검증용)
func ParseDataURI(uri string) (mimeType string, base64Data string, err error) {
	if !strings.HasPrefix(uri, "data:") {
		return "", "", fmt.Errorf("not a data URI")
	}
	rest := uri[len("data:"):]
	sep := strings.Index(rest, ";base64,")
	if sep < 0 {
		return "", "", fmt.Errorf("data URI is not base64-encoded")
	}
	mimeType = rest[:sep]
	base64Data = rest[sep+len(";base64,"):]
	if mimeType == "" || base64Data == "" {
		return "", "", fmt.Errorf("data URI has empty mime type or payload")
	}
	if _, err := base64.StdEncoding.DecodeString(base64Data); err != nil {
		return "", "", fmt.Errorf("invalid base64 payload: %w", err)
	}
	return mimeType, base64Data, nil
}

// ExtensionForMime - MIME 타입에서 다운로드 파일 확장자 결정 (기본 png)
func ExtensionForMime(mimeType string) string {
	switch strings.ToLower(strings.TrimSpace(mimeType)) {
	case "image/jpeg", "image/jpg":
		return "jpg"
	case "image/webp":
		return "webp"
	case "image/gif":
		return "gif"
	case "image/png", "":
		return "png"
	default:
		return "png"
	}
}

// ResizeImage - Nearest Neighbor 방식으로 지정 크기로 resize (비율은 호출자가 계산)
func ResizeImage(src image.Image, targetWidth, targetHeight int) image.Image {
	srcBounds := src.Bounds()
	srcWidth := srcBounds.Dx()
	srcHeight := srcBounds.Dy()

	dst := image.NewRGBA(image.Rect(0, 0, targetWidth, targetHeight))

	scaleX := float64(srcWidth) / float64(targetWidth)
	scaleY := float64(srcHeight) / float64(targetHeight)

	for y := 0; y < targetHeight; y++ {
		for x := 0; x < targetWidth; x++ {
			srcX := int(float64(x) * scaleX)
			srcY := int(float64(y) * scaleY)
			dst.Set(x, y, src.At(srcBounds.Min.X+srcX, srcBounds.Min.Y+srcY))
		}
	}

	return dst
}
