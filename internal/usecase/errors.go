package usecase

import "fmt"

type ErrorCode string

const (
	ErrorInvalidRequest       ErrorCode = "INVALID_REQUEST"
	ErrorUnauthenticated      ErrorCode = "UNAUTHENTICATED"
	ErrorConversationNotFound ErrorCode = "CONVERSATION_NOT_FOUND"
	ErrorPayloadTooLarge      ErrorCode = "PAYLOAD_TOO_LARGE"
	ErrorStoreUnavailable     ErrorCode = "STORE_UNAVAILABLE"
	ErrorProvider             ErrorCode = "PROVIDER_ERROR"
	ErrorInternal             ErrorCode = "INTERNAL_ERROR"
)

const (
	reasonMissingFields      = "missing_fields"
	reasonMissingToken       = "missing_token"
	reasonInvalidToken       = "invalid_token"
	reasonInvalidEncoding    = "invalid_document_encoding"
	reasonNotPDF             = "not_a_pdf"
	reasonDocumentTooLarge   = "document_too_large"
	reasonProviderTooLarge   = "provider_payload_too_large"
	reasonConversationLookup = "conversation_lookup_error"
	reasonNotOwner           = "conversation_not_owned"
	reasonProviderError      = "provider_error"
)

// MissingFieldsMessage is returned to callers that omit a required field.
const MissingFieldsMessage = "Missing 'question', 'pdfBase64', or 'conversation_id'"

type Error struct {
	Code   ErrorCode
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return fmt.Sprintf("usecase: %s (%s)", e.Code, e.Reason)
	}
	return fmt.Sprintf("usecase: %s (%s): %v", e.Code, e.Reason, e.Err)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Message is the text shown to the end user. Provider failures surface the
// provider's own message; other internals are never exposed.
func (e *Error) Message() string {
	if e == nil {
		return ""
	}
	switch e.Code {
	case ErrorInvalidRequest:
		switch e.Reason {
		case reasonInvalidEncoding:
			return "Document is not valid base64"
		case reasonNotPDF:
			return "Document is not a PDF"
		default:
			return MissingFieldsMessage
		}
	case ErrorUnauthenticated:
		return "User not authenticated"
	case ErrorConversationNotFound:
		return "Conversation not found"
	case ErrorPayloadTooLarge:
		return "Document is too large"
	case ErrorStoreUnavailable:
		return "Transcript store unavailable"
	case ErrorProvider:
		if e.Err != nil {
			return e.Err.Error()
		}
		return "Inference provider error"
	default:
		return "Internal server error"
	}
}

func newError(code ErrorCode, reason string, err error) *Error {
	return &Error{Code: code, Reason: reason, Err: err}
}
