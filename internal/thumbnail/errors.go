package thumbnail

import (
	"errors"
	"fmt"
	"net/http"
)

// Category classifies a pipeline failure for callers.
type Category string

// Failure categories. CategoryOK only appears on successful RenderEvents.
const (
	CategoryOK                Category = "OK"
	CategoryInvalidURL        Category = "InvalidURL"
	CategoryInvalidRequest    Category = "InvalidRequest"
	CategoryLaunchFailed      Category = "LaunchFailed"
	CategoryNavigationTimeout Category = "NavigationTimeout"
	CategoryNavigationFailed  Category = "NavigationFailed"
	CategoryEncodingFailed    Category = "EncodingFailed"
	CategoryInternal          Category = "Internal"
)

// HTTPStatus maps the category to the status code returned by the HTTP boundary.
func (c Category) HTTPStatus() int {
	switch c {
	case CategoryOK:
		return http.StatusOK
	case CategoryInvalidURL, CategoryInvalidRequest:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// Sentinels for errors.Is. They match any *Error of the same category.
var (
	ErrInvalidURL        = &Error{Category: CategoryInvalidURL}
	ErrInvalidRequest    = &Error{Category: CategoryInvalidRequest}
	ErrLaunchFailed      = &Error{Category: CategoryLaunchFailed}
	ErrNavigationTimeout = &Error{Category: CategoryNavigationTimeout}
	ErrNavigationFailed  = &Error{Category: CategoryNavigationFailed}
	ErrEncodingFailed    = &Error{Category: CategoryEncodingFailed}
)

// Error is the caller-facing error type of the pipeline.
type Error struct {
	Category Category
	Op       string
	Err      error
}

// NewError wraps err with a category and the operation that failed.
func NewError(category Category, op string, err error) *Error {
	return &Error{Category: category, Op: op, Err: err}
}

// Errorf builds an *Error from a format string.
func Errorf(category Category, op string, format string, args ...any) *Error {
	return &Error{Category: category, Op: op, Err: fmt.Errorf(format, args...)}
}

func (e *Error) Error() string {
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Category, e.Op, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Category, e.Err)
	case e.Op != "":
		return fmt.Sprintf("%s: %s", e.Category, e.Op)
	default:
		return string(e.Category)
	}
}

// Unwrap exposes the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error with the same category.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Category == e.Category
}

// Message returns the human-readable part of the error without the category prefix.
func (e *Error) Message() string {
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	case e.Err != nil:
		return e.Err.Error()
	default:
		return e.Op
	}
}

// CategoryOf classifies any error. Nil maps to CategoryOK, untyped errors to CategoryInternal.
func CategoryOf(err error) Category {
	if err == nil {
		return CategoryOK
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Category
	}
	return CategoryInternal
}
