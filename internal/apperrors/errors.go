package apperrors

import (
	"encoding/json"
	"errors"
	"net/http"
)

// Kind is the exception name reported to callers in the "exception" field.
type Kind string

const (
	KindClientMissingCommand   Kind = "ClientMissingCommandError"
	KindClientMissingDevice    Kind = "ClientMissingDeviceError"
	KindClientMissingEmail     Kind = "ClientMissingEmailError"
	KindClientMissingPassword  Kind = "ClientMissingPasswordError"
	KindInvalidNumber          Kind = "InvalidNumberError"
	KindInvalidSecret          Kind = "InvalidSecretError"
	KindNotANumber             Kind = "NotANumberError"
	KindServerHasNoSecret      Kind = "ServerHasNoSecretError"
	KindServerMissingEmail     Kind = "ServerMissingEmailError"
	KindServerMissingPassword  Kind = "ServerMissingPasswordError"
	KindUnknownCommand         Kind = "UnknownCommandError"
	KindUnknownDevice          Kind = "UnknownDeviceError"
	KindInvalidEmailOrPassword Kind = "InvalidEmailOrPasswordError"
	KindCredentialsMissing     Kind = "CredentialsMissingError"
	KindRemoteRequestFailed    Kind = "RemoteRequestFailedError"
	KindRateLimited            Kind = "RateLimitedError"
	KindBadRequest             Kind = "BadRequestError"
	KindInternal               Kind = "InternalError"
)

type AppError struct {
	Code    int                    `json:"-"`
	Kind    Kind                   `json:"exception"`
	Message string                 `json:"message"`
	Err     error                  `json:"-"`
	Fields  map[string]interface{} `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *AppError) Unwrap() error { return e.Err }

// Is matches any *AppError of the same kind, so errors.Is(err, UnknownDevice())
// works without sentinel values.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

func NewAppError(code int, kind Kind, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Kind:    kind,
		Message: message,
		Err:     err,
		Fields:  make(map[string]interface{}),
	}
}

// WithField adds a single additional field to be serialized with the error response.
func (e *AppError) WithField(key string, value interface{}) *AppError {
	if e.Fields == nil {
		e.Fields = make(map[string]interface{})
	}
	e.Fields[key] = value
	return e
}

func ClientMissingEmail() *AppError {
	return NewAppError(http.StatusUnauthorized, KindClientMissingEmail, "Missing email. Provide a secret or an email and password.", nil)
}

func ClientMissingPassword() *AppError {
	return NewAppError(http.StatusUnauthorized, KindClientMissingPassword, "Missing password.", nil)
}

func ClientMissingDevice() *AppError {
	return NewAppError(http.StatusBadRequest, KindClientMissingDevice, "Missing device name.", nil)
}

func ClientMissingCommand() *AppError {
	return NewAppError(http.StatusBadRequest, KindClientMissingCommand, "Missing command.", nil)
}

func InvalidSecret() *AppError {
	return NewAppError(http.StatusUnauthorized, KindInvalidSecret, "Invalid secret.", nil)
}

func ServerHasNoSecret() *AppError {
	return NewAppError(http.StatusInternalServerError, KindServerHasNoSecret, "The server has no secret configured.", nil)
}

func ServerMissingEmail() *AppError {
	return NewAppError(http.StatusInternalServerError, KindServerMissingEmail, "The server has no email configured.", nil)
}

func ServerMissingPassword() *AppError {
	return NewAppError(http.StatusInternalServerError, KindServerMissingPassword, "The server has no password configured.", nil)
}

func InvalidEmailOrPassword() *AppError {
	return NewAppError(http.StatusBadRequest, KindInvalidEmailOrPassword, "Invalid email or password.", nil)
}

func CredentialsMissing() *AppError {
	return NewAppError(http.StatusBadRequest, KindCredentialsMissing, "Email and password are required.", nil)
}

func NotANumber(arg string) *AppError {
	return NewAppError(http.StatusBadRequest, KindNotANumber, "Argument '"+arg+"' is not a number.", nil).
		WithField("argument", arg)
}

func InvalidNumber(arg string) *AppError {
	return NewAppError(http.StatusBadRequest, KindInvalidNumber, "Argument '"+arg+"' is out of range.", nil).
		WithField("argument", arg)
}

func UnknownDevice() *AppError {
	return NewAppError(http.StatusBadRequest, KindUnknownDevice, "Unknown device.", nil)
}

func UnknownCommand() *AppError {
	return NewAppError(http.StatusBadRequest, KindUnknownCommand, "Unknown command.", nil)
}

func RemoteRequestFailed(err error) *AppError {
	return NewAppError(http.StatusBadGateway, KindRemoteRequestFailed, "Request to Telldus Live failed.", err)
}

func BadRequest(message string) *AppError {
	return NewAppError(http.StatusBadRequest, KindBadRequest, message, nil)
}

func RateLimited() *AppError {
	return NewAppError(http.StatusTooManyRequests, KindRateLimited, "Rate limit exceeded.", nil)
}

// KindOf returns the kind of the first *AppError in err's chain, or "".
func KindOf(err error) Kind {
	var ae *AppError
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return ""
}

// From converts any error to an *AppError; unknown errors become a 500.
func From(err error) *AppError {
	var ae *AppError
	if errors.As(err, &ae) {
		return ae
	}
	return NewAppError(http.StatusInternalServerError, KindInternal, "Internal server error.", err)
}

func WriteError(w http.ResponseWriter, err *AppError) {
	if err.Code == http.StatusTooManyRequests {
		w.Header().Set("Retry-After", "1")
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(err.Code)
	payload := map[string]interface{}{
		"message":   err.Message,
		"exception": string(err.Kind),
	}
	for k, v := range err.Fields { // include any supplemental fields
		// avoid overwriting core keys
		if k == "message" || k == "exception" {
			continue
		}
		payload[k] = v
	}
	_ = json.NewEncoder(w).Encode(payload)
}
