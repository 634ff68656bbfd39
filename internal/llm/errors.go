package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/google/generative-ai-go/genai"
	openai "github.com/openai/openai-go"
	"google.golang.org/api/googleapi"
)

// ErrGateway is matched by every *GatewayError via errors.Is.
var ErrGateway = errors.New("llm: gateway failure")

// ErrSafetyBlock is returned by providers when the model refused or the
// output was withheld by a safety filter.
var ErrSafetyBlock = errors.New("llm: response blocked by provider safety filter")

// ErrMissingAPIKey is returned when the provider's API key is not configured.
var ErrMissingAPIKey = errors.New("llm: API key environment variable not set")

// Category classifies a gateway failure.
type Category string

const (
	CategoryNetwork      Category = "network"
	CategoryAuth         Category = "auth"
	CategoryRateLimit    Category = "rate-limit"
	CategorySafetyBlock  Category = "safety-block"
	CategoryParseFailure Category = "parse-failure"
	CategoryUnknown      Category = "unknown"
)

// GatewayError is a categorised report generation failure.
type GatewayError struct {
	Category Category
	Err      error
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("report generation failed (%s): %v", e.Category, e.Err)
}

func (e *GatewayError) Unwrap() error { return e.Err }

// Is makes every GatewayError match ErrGateway.
func (e *GatewayError) Is(target error) bool { return target == ErrGateway }

func newGatewayError(err error) *GatewayError {
	return &GatewayError{Category: Classify(err), Err: err}
}

// Classify maps a provider error to a Category.
func Classify(err error) Category {
	var ge *GatewayError
	switch {
	case err == nil:
		return CategoryUnknown
	case errors.As(err, &ge):
		return ge.Category
	case errors.Is(err, ErrInvalidModelOutput):
		return CategoryParseFailure
	case errors.Is(err, ErrSafetyBlock):
		return CategorySafetyBlock
	case errors.Is(err, ErrMissingAPIKey):
		return CategoryAuth
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return CategoryNetwork
	}

	var blocked *genai.BlockedError
	if errors.As(err, &blocked) {
		return CategorySafetyBlock
	}

	if code := statusCode(err); code != 0 {
		switch {
		case code == http.StatusUnauthorized || code == http.StatusForbidden:
			return CategoryAuth
		case code == http.StatusTooManyRequests:
			return CategoryRateLimit
		case code >= 500:
			return CategoryNetwork
		}
		return CategoryUnknown
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return CategoryNetwork
	}
	return CategoryUnknown
}

// statusCode extracts the HTTP status from any of the provider SDK errors,
// or 0 when err carries none.
func statusCode(err error) int {
	var ae *anthropic.Error
	if errors.As(err, &ae) {
		return ae.StatusCode
	}
	var oe *openai.Error
	if errors.As(err, &oe) {
		return oe.StatusCode
	}
	var gae *googleapi.Error
	if errors.As(err, &gae) {
		return gae.Code
	}
	return 0
}
