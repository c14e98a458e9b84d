package gateway

import (
	"errors"
	"fmt"

	"github.com/aws/smithy-go"
	"github.com/openai/openai-go/v2"
)

// ErrEmptyResponse is wrapped when a model answers without any text.
var ErrEmptyResponse = errors.New("gateway: empty response")

// GatewayError is a structured failure reported by the remote service,
// such as a rate limit, an unknown model identifier or rejected credentials.
type GatewayError struct {
	Service string
	Code    string
	Message string
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("%s error [%s]: %s", e.Service, e.Code, e.Message)
}

// TransportError is any other failure while calling a service: network,
// decoding, or an error the service did not classify.
type TransportError struct {
	Service string
	Err     error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s transport error: %v", e.Service, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Class names the error class of err for metrics and logs: "gateway",
// "transport" or "" for nil.
func Class(err error) string {
	if err == nil {
		return ""
	}
	var gwErr *GatewayError
	if errors.As(err, &gwErr) {
		return "gateway"
	}
	return "transport"
}

// classify converts an SDK error into a *GatewayError or *TransportError.
func classify(service string, err error) error {
	if err == nil {
		return nil
	}

	var gwErr *GatewayError
	if errors.As(err, &gwErr) {
		return err
	}
	var trErr *TransportError
	if errors.As(err, &trErr) {
		return err
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return &GatewayError{Service: service, Code: apiErr.ErrorCode(), Message: apiErr.ErrorMessage()}
	}

	var oaErr *openai.Error
	if errors.As(err, &oaErr) {
		code := oaErr.Code
		if code == "" {
			code = fmt.Sprintf("HTTP %d", oaErr.StatusCode)
		}
		msg := oaErr.Message
		if msg == "" {
			msg = oaErr.Error()
		}
		return &GatewayError{Service: service, Code: code, Message: msg}
	}

	return &TransportError{Service: service, Err: err}
}
