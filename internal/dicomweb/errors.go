package dicomweb

import (
	"errors"
	"fmt"
)

// ErrorCode classifies a failed DICOMweb request. Every transport failure
// the client surfaces is translated into exactly one of these before it
// reaches UI-facing code.
type ErrorCode string

const (
	CodeUnauthorized  ErrorCode = "UNAUTHORIZED"
	CodeForbidden     ErrorCode = "FORBIDDEN"
	CodeNotFound      ErrorCode = "NOT_FOUND"
	CodeNetworkOrCORS ErrorCode = "NETWORK_OR_CORS"
	CodeHTTP          ErrorCode = "HTTP"
)

// ClientError is the typed error taxonomy for the directory client. Status
// is zero for transport-level failures.
type ClientError struct {
	Code   ErrorCode
	Status int
	msg    string
}

func (e *ClientError) Error() string {
	return e.msg
}

func newClientError(code ErrorCode, status int, msg string) *ClientError {
	return &ClientError{Code: code, Status: status, msg: msg}
}

// statusError maps a non-2xx response status to the taxonomy with its fixed
// actionable message.
func statusError(status int) *ClientError {
	switch status {
	case 401:
		return newClientError(CodeUnauthorized, status,
			"Orthanc authentication failed (401). Check username/password.")
	case 403:
		return newClientError(CodeForbidden, status,
			"Orthanc rejected this request (403). Check permissions.")
	case 404:
		return newClientError(CodeNotFound, status,
			"DICOMweb endpoint not found (404). Verify base URL ends with /dicom-web.")
	default:
		return newClientError(CodeHTTP, status,
			fmt.Sprintf("Orthanc DICOMweb request failed (%d).", status))
	}
}

func networkError(baseURL string) *ClientError {
	return newClientError(CodeNetworkOrCORS, 0,
		fmt.Sprintf("Cannot reach Orthanc at %s. Check Docker status, URL, and CORS/proxy settings.", baseURL))
}

// ReadableError returns the fixed human-readable message for a client
// error, or a generic fallback for anything else.
func ReadableError(err error) string {
	var clientErr *ClientError
	if errors.As(err, &clientErr) {
		return clientErr.Error()
	}
	return "Unknown DICOMweb error. Check server logs for details."
}
