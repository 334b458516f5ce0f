package uploads

import "ai-stylist-server/modules/normalize"

// 슬롯(인물 또는 스타일 레퍼런스)별 업로드 컬렉션.
// 순수하게 경계가 있는 순서 집합이며 에러 상태가 없다 - 초과분은 뒤에서 잘린다.

// Add - 기존 컬렉션에 새 이미지를 추가하고 최대 크기로 자름
func Add(existing, incoming []normalize.NormalizedImage, max int) []normalize.NormalizedImage {
	merged := make([]normalize.NormalizedImage, 0, len(existing)+len(incoming))
	merged = append(merged, existing...)
	merged = append(merged, incoming...)
	return truncate(merged, max)
}

// Remove - 해당 인덱스 제거 (범위 밖 인덱스는 무시)
func Remove(existing []normalize.NormalizedImage, index int) []normalize.NormalizedImage {
	if index < 0 || index >= len(existing) {
		out := make([]normalize.NormalizedImage, len(existing))
		copy(out, existing)
		return out
	}
	out := make([]normalize.NormalizedImage, 0, len(existing)-1)
	out = append(out, existing[:index]...)
	out = append(out, existing[index+1:]...)
	return out
}

// Replace - 컬렉션 전체 교체 (스타일 레퍼런스 슬롯 의미론)
func Replace(incoming []normalize.NormalizedImage, max int) []normalize.NormalizedImage {
	return truncate(incoming, max)
}

func truncate(images []normalize.NormalizedImage, max int) []normalize.NormalizedImage {
	if max <= 0 {
		max = 5
	}
	if len(images) > max {
		images = images[:max]
	}
	out := make([]normalize.NormalizedImage, len(images))
	copy(out, images)
	return out
}
