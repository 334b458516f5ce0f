package normalize

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"image"
	_ "image/gif"  // GIF 디코더 등록
	_ "image/jpeg" // JPEG 디코더 등록
	_ "image/png"  // PNG 디코더 등록
	"log"
	"math"

	_ "github.com/kolesa-team/go-webp/decoder" // WebP 디코더 등록
	"github.com/kolesa-team/go-webp/encoder"
	"github.com/kolesa-team/go-webp/webp"
	"golang.org/x/sync/errgroup"

	"ai-stylist-server/modules/common/telemetry"
	"ai-stylist-server/modules/common/utils"
)

// NormalizedImage - 정규화 완료된 이미지. 생성 이후 불변.
type NormalizedImage struct {
	Base64   string `json:"base64"`
	MimeType string `json:"mimeType"`
}

// Normalizer - 업로드 이미지 정규화 파이프라인
// 디코드 → 긴 변 기준 축소 (업스케일 없음) → WebP 재인코딩 → base64
type Normalizer struct {
	MaxDimension int
	Quality      float32
	Concurrency  int
}

// New - Normalizer 생성
func New(maxDimension int, quality float32) *Normalizer {
	if maxDimension <= 0 {
		maxDimension = 1024
	}
	if quality <= 0 {
		quality = 85.0
	}
	return &Normalizer{
		MaxDimension: maxDimension,
		Quality:      quality,
		Concurrency:  4,
	}
}

// NormalizeBatch - 파일 배치를 병렬 정규화
// 각 파일은 독립 작업 단위이고, 결과 병합은 배치 전체가 끝난 뒤 한 번에 일어난다.
// 실패한 파일은 로깅 후 결과에서 제외 (부분 실패 허용). 성공분은 제출 순서 유지.
func (n *Normalizer) NormalizeBatch(ctx context.Context, files [][]byte) []NormalizedImage {
	if len(files) == 0 {
		return nil
	}

	log.Printf("🖼️  Normalizing batch of %d file(s)...", len(files))

	slots := make([]*NormalizedImage, len(files))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(n.Concurrency)

	for i, data := range files {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return nil
			}
			result, err := n.normalizeOne(data)
			if err != nil {
				// 파일 하나의 실패가 배치를 막지 않음
				telemetry.LogError(err, "normalize.batch")
				return nil
			}
			slots[i] = &result
			return nil
		})
	}

	// 배치 단위 join: 가장 느린 파일까지 기다린 뒤 병합
	_ = g.Wait()

	results := make([]NormalizedImage, 0, len(files))
	for _, slot := range slots {
		if slot != nil {
			results = append(results, *slot)
		}
	}

	log.Printf("✅ Batch normalized: %d/%d succeeded", len(results), len(files))
	return results
}

// normalizeOne - 단일 파일 정규화
func (n *Normalizer) normalizeOne(data []byte) (NormalizedImage, error) {
	if len(data) == 0 {
		return NormalizedImage{}, fmt.Errorf("empty image data")
	}

	// 1. 디코드 (PNG/JPEG/GIF/WebP 자동 감지)
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return NormalizedImage{}, fmt.Errorf("failed to decode image: %w", err)
	}

	bounds := img.Bounds()
	srcW, srcH := bounds.Dx(), bounds.Dy()

	// 2. 목표 크기 계산 (비율 유지, 업스케일 없음)
	dstW, dstH := ComputeTargetSize(srcW, srcH, n.MaxDimension)
	if dstW != srcW || dstH != srcH {
		img = utils.ResizeImage(img, dstW, dstH)
		log.Printf("🔄 Resized %s image: %dx%d → %dx%d", format, srcW, srcH, dstW, dstH)
	}

	// 3. WebP 재인코딩
	options, err := encoder.NewLossyEncoderOptions(encoder.PresetDefault, n.Quality)
	if err != nil {
		return NormalizedImage{}, fmt.Errorf("failed to create WebP encoder options: %w", err)
	}

	var buf bytes.Buffer
	if err := webp.Encode(&buf, img, options); err != nil {
		return NormalizedImage{}, fmt.Errorf("failed to encode WebP: %w", err)
	}

	// 4. base64 직렬화
	return NormalizedImage{
		Base64:   base64.StdEncoding.EncodeToString(buf.Bytes()),
		MimeType: "image/webp",
	}, nil
}

// ComputeTargetSize - 긴 변이 maxDim을 넘지 않도록 축소 크기 계산
// 이미 작은 이미지는 그대로 통과
func ComputeTargetSize(width, height, maxDim int) (int, int) {
	if width <= maxDim && height <= maxDim {
		return width, height
	}

	longer := width
	if height > longer {
		longer = height
	}
	scale := float64(maxDim) / float64(longer)

	newW := int(math.Round(float64(width) * scale))
	newH := int(math.Round(float64(height) * scale))
	if newW < 1 {
		newW = 1
	}
	if newH < 1 {
		newH = 1
	}
	return newW, newH
}
