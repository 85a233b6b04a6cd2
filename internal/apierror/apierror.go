// Package apierror defines the error taxonomy returned by the receipts API
// and its JSON wire format.
package apierror

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
)

// Kind identifies a class of API error. Each kind maps to one HTTP status.
type Kind int

const (
	EndpointNotFound Kind = iota
	ResourceNotFound
	InvalidParameter
	IoError
	ImageUploadError
	ImageGenerateError
	ImageProcessFailed
)

// Tag is the discriminant written to the wire. IoError shares the upload
// tag so filesystem details never show up as their own category.
func (k Kind) Tag() string {
	switch k {
	case EndpointNotFound:
		return "endpoint_not_found"
	case ResourceNotFound:
		return "resource_not_found"
	case InvalidParameter:
		return "invalid_parameter"
	case IoError, ImageUploadError:
		return "image_upload_error"
	case ImageGenerateError:
		return "image_generate_error"
	case ImageProcessFailed:
		return "image_process_failed"
	default:
		return "unknown"
	}
}

// Status is the HTTP status code for the kind.
func (k Kind) Status() int {
	switch k {
	case EndpointNotFound, ResourceNotFound:
		return http.StatusNotFound
	case InvalidParameter, ImageGenerateError, ImageProcessFailed:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (k Kind) String() string {
	return k.Tag()
}

// Error is an API error. Sensitive and Err are for logs only.
type Error struct {
	Kind      Kind
	Message   string
	Sensitive string
	Path      string
	ID        string
	Err       error
}

func (e *Error) Error() string {
	msg := e.Kind.Tag()
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Sensitive != "" {
		msg += " (" + e.Sensitive + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Status is the HTTP status code for the error.
func (e *Error) Status() int {
	return e.Kind.Status()
}

type wireError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	Path    string `json:"path,omitempty"`
	ID      string `json:"id,omitempty"`
}

// MarshalJSON writes the user-facing fields only.
func (e *Error) MarshalJSON() ([]byte, error) {
	return json.Marshal(wireError{
		Type:    e.Kind.Tag(),
		Message: e.Message,
		Path:    e.Path,
		ID:      e.ID,
	})
}

// Envelope is the JSON body of every error response.
type Envelope struct {
	Error *Error `json:"error"`
}

func NewEndpointNotFound(path string) *Error {
	return &Error{Kind: EndpointNotFound, Message: "Endpoint not found", Path: path}
}

func NewResourceNotFound(id string) *Error {
	return &Error{Kind: ResourceNotFound, Message: "Resource not found", ID: id}
}

func NewInvalidParameter(message, sensitive string) *Error {
	return &Error{Kind: InvalidParameter, Message: message, Sensitive: sensitive}
}

func NewIoError(err error) *Error {
	return &Error{Kind: IoError, Message: "Failed to upload image", Err: err}
}

func NewImageUploadError(message string, err error) *Error {
	return &Error{Kind: ImageUploadError, Message: message, Err: err}
}

func NewImageGenerateError(err error) *Error {
	return &Error{Kind: ImageGenerateError, Message: "Failed to generate image", Err: err}
}

func NewImageProcessFailed(message string, err error) *Error {
	if message == "" {
		message = "Failed to process image"
	}
	return &Error{Kind: ImageProcessFailed, Message: message, Err: err}
}

// From returns err as an *Error, wrapping anything unclassified as IoError.
func From(err error) *Error {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr
	}
	return NewIoError(err)
}

// Is reports whether err carries an API error of the given kind.
func Is(err error, kind Kind) bool {
	var apiErr *Error
	return errors.As(err, &apiErr) && apiErr.Kind == kind
}

// Write logs err and writes it as a JSON error response.
func Write(w http.ResponseWriter, err error) {
	apiErr := From(err)

	slog.Error("Responded error",
		"type", apiErr.Kind.Tag(),
		"status", apiErr.Status(),
		"message", apiErr.Message,
		"sensitive", apiErr.Sensitive,
		"err", apiErr.Err,
	)

	body, mErr := json.Marshal(Envelope{Error: apiErr})
	if mErr != nil {
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(apiErr.Status())
	if _, wErr := w.Write(append(body, '\n')); wErr != nil {
		slog.Error("Unable to write error response", "err", wErr)
	}
}

// Errorf builds an InvalidParameter error with a formatted sensitive message.
func Errorf(message, format string, args ...any) *Error {
	return NewInvalidParameter(message, fmt.Sprintf(format, args...))
}
