package uploads

import (
	"fmt"
	"testing"

	"ai-stylist-server/modules/normalize"
)

func images(n int, prefix string) []normalize.NormalizedImage {
	out := make([]normalize.NormalizedImage, n)
	for i := range out {
		out[i] = normalize.NormalizedImage{
			Base64:   fmt.Sprintf("%s-%d", prefix, i),
			MimeType: "image/webp",
		}
	}
	return out
}

func TestAddTruncatesOverflowFromEnd(t *testing.T) {
	existing := images(3, "old")
	incoming := images(4, "new")

	got := Add(existing, incoming, 5)
	if len(got) != 5 {
		t.Fatalf("expected 5 images, got %d", len(got))
	}
	// 기존 항목이 앞, 새 항목이 뒤, 초과분은 뒤에서 잘림
	for i := 0; i < 3; i++ {
		if got[i].Base64 != fmt.Sprintf("old-%d", i) {
			t.Errorf("slot %d: expected old-%d, got %s", i, i, got[i].Base64)
		}
	}
	if got[3].Base64 != "new-0" || got[4].Base64 != "new-1" {
		t.Errorf("overflow must be dropped from the end, got %s, %s", got[3].Base64, got[4].Base64)
	}
}

func TestRemoveByIndex(t *testing.T) {
	got := Remove(images(3, "img"), 1)
	if len(got) != 2 {
		t.Fatalf("expected 2 images, got %d", len(got))
	}
	if got[0].Base64 != "img-0" || got[1].Base64 != "img-2" {
		t.Errorf("unexpected order after remove: %s, %s", got[0].Base64, got[1].Base64)
	}
}

func TestRemoveOutOfRangeIsNoop(t *testing.T) {
	existing := images(2, "img")
	if got := Remove(existing, 7); len(got) != 2 {
		t.Errorf("out-of-range remove must be a no-op, got %d images", len(got))
	}
	if got := Remove(existing, -1); len(got) != 2 {
		t.Errorf("negative-index remove must be a no-op, got %d images", len(got))
	}
}

func TestReplaceCapsAtMax(t *testing.T) {
	got := Replace(images(8, "ref"), 5)
	if len(got) != 5 {
		t.Fatalf("expected replace to cap at 5, got %d", len(got))
	}
	if got[0].Base64 != "ref-0" {
		t.Errorf("replace must keep leading entries, got %s", got[0].Base64)
	}
}

func TestAddDoesNotAliasInputs(t *testing.T) {
	existing := images(2, "img")
	got := Add(existing, nil, 5)
	got[0].Base64 = "mutated"
	if existing[0].Base64 == "mutated" {
		t.Error("Add must return a copy, not alias the input slice")
	}
}
