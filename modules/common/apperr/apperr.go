package apperr

import (
	"errors"
	"fmt"
	"strings"
)

// Kind - 에러 분류
// 게이트웨이 호출 실패는 전부 이 분류 중 하나로 변환된 뒤 상태 전이로 전달된다.
type Kind int

const (
	KindTransport Kind = iota // 네트워크/형식 외 일반 실패
	KindRateLimited           // 429 / quota 소진 (재시도 대상)
	KindSafetyBlocked         // 업스트림 콘텐츠 정책 차단
	KindRecitationBlocked     // recitation 차단
	KindTokenLimit            // 토큰 한도로 응답 잘림
	KindMalformed             // 파싱은 됐지만 기대 스키마와 불일치
	KindValidation            // 로컬 사전조건 실패 (네트워크 호출 전)
)

// Error - 분류된 에러. 원본 에러는 핸들러 밖으로 내보내지 않는다.
type Error struct {
	Kind    Kind
	Message string // 사용자에게 보여줄 메시지
	Err     error  // 원본 (로깅용)
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// New - 분류와 사용자 메시지로 에러 생성
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap - 원본 에러를 감싸면서 분류
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// KindOf - 에러의 분류 추출 (분류 안 된 에러는 transport 취급)
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return KindTransport
}

// UserMessage - 사용자에게 보여줄 메시지 추출
func UserMessage(err error) string {
	var ae *Error
	if errors.As(err, &ae) && ae.Message != "" {
		return ae.Message
	}
	switch KindOf(err) {
	case KindRateLimited:
		return "The service is busy right now. Please try again in a moment."
	case KindSafetyBlocked:
		return "The request was blocked by the content policy. Try rephrasing or softening your prompt."
	default:
		return "Something went wrong. Please try again."
	}
}

// IsRateLimit - 429 / quota 소진 신호인지 확인 (Gemini API 429 에러 패턴 체크)
func IsRateLimit(err error) bool {
	if err == nil {
		return false
	}
	if KindOf(err) == KindRateLimited {
		return true
	}
	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "429") ||
		strings.Contains(errStr, "rate limit") ||
		strings.Contains(errStr, "resource_exhausted") ||
		strings.Contains(errStr, "quota")
}
