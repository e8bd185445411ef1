// Package errs defines the user-facing error codes of the chat. Every error a
// person can trigger from the auth or chat screens maps to a CustomError with
// a stable numeric code and a display message.
package errs

import (
	"errors"
	"fmt"
	"strings"

	"github.com/nexus/chat-app/internal/logx"
)

// 1xxx: input validation
const (
	ErrInvalidParams  = 1001
	ErrFileTooLarge   = 1002
	ErrCommandUsage   = 1003
	ErrTooLargeToSend = 1004
)

// 3xxx: accounts and authorization
const (
	ErrUserAlreadyExists  = 3001
	ErrUserNotFound       = 3002
	ErrInvalidCredentials = 3003
	ErrUnauthorized       = 3004
)

// 5xxx: local storage and transport
const (
	ErrUnknown        = 5000
	ErrStorageFailed  = 5001
	ErrTransportClose = 5002
)

// CustomError carries a code and a message that is safe to show to the user.
type CustomError struct {
	Code    int
	Message string
}

func (e CustomError) Error() string {
	return fmt.Sprintf("error %d: %s", e.Code, e.Message)
}

var errorMap = map[int]CustomError{
	ErrInvalidParams:  {Code: ErrInvalidParams, Message: "Please fill in all fields."},
	ErrFileTooLarge:   {Code: ErrFileTooLarge, Message: "File is too large (max %d MB)."},
	ErrCommandUsage:   {Code: ErrCommandUsage, Message: "Usage: %s"},
	ErrTooLargeToSend: {Code: ErrTooLargeToSend, Message: "File is too large to send to the other tabs (max %d KB)."},

	ErrUserAlreadyExists:  {Code: ErrUserAlreadyExists, Message: "That username is already taken."},
	ErrUserNotFound:       {Code: ErrUserNotFound, Message: "User %q not found."},
	ErrInvalidCredentials: {Code: ErrInvalidCredentials, Message: "Incorrect username or password."},
	ErrUnauthorized:       {Code: ErrUnauthorized, Message: "You do not have permission to use this command."},

	ErrUnknown:        {Code: ErrUnknown, Message: "Something went wrong. Please try again."},
	ErrStorageFailed:  {Code: ErrStorageFailed, Message: "Local storage is full. Some data could not be saved."},
	ErrTransportClose: {Code: ErrTransportClose, Message: "Connection to the other tabs was lost."},
}

// NewError builds the CustomError registered for code. details fill the
// message placeholders, if the template has any. Unknown codes map to
// ErrUnknown.
func NewError(code int, details ...any) *CustomError {
	tmpl, ok := errorMap[code]
	if !ok {
		logx.Error(fmt.Errorf("unknown error code %d", code), "errs: unregistered code requested")
		unknown := errorMap[ErrUnknown]
		return &unknown
	}

	e := tmpl
	if len(details) > 0 {
		if strings.Contains(e.Message, "%") {
			e.Message = fmt.Sprintf(e.Message, details...)
		} else {
			logx.Warn("errs: details provided for a message without placeholders", "code", code)
		}
	}
	return &e
}

// Is reports whether err is a CustomError with the given code.
func Is(err error, code int) bool {
	var ce *CustomError
	if errors.As(err, &ce) {
		return ce.Code == code
	}
	return false
}

// Message returns the user-facing text of err. Errors that are not
// CustomErrors get the generic ErrUnknown message.
func Message(err error) string {
	var ce *CustomError
	if errors.As(err, &ce) {
		return ce.Message
	}
	return errorMap[ErrUnknown].Message
}
