package classifier

import (
	"context"
	"errors"
	"strings"

	"orderbroker/internal/apperr"
)

// TranslateError приводит ошибку провайдера к apperr по тексту сообщения
func TranslateError(provider string, err error) error {
	if err == nil {
		return nil
	}
	var typed *apperr.Error
	if errors.As(err, &typed) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return apperr.Transient(err, "%s call timed out", provider)
	}
	if errors.Is(err, context.Canceled) {
		return apperr.Transient(err, "%s call cancelled", provider)
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "unauthorized") || strings.Contains(msg, "authentication") || strings.Contains(msg, "api key"):
		return apperr.Fatal(err, "%s authentication failed", provider)
	case strings.Contains(msg, "model") && strings.Contains(msg, "not found"):
		return apperr.Fatal(err, "%s model not found", provider)
	case strings.Contains(msg, "rate limit") || strings.Contains(msg, "too many requests"):
		return apperr.Transient(err, "%s rate limited", provider)
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline"):
		return apperr.Transient(err, "%s call timed out", provider)
	default:
		return apperr.Transient(err, "%s unavailable", provider)
	}
}
