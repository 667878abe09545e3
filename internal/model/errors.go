package model

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Error is a domain failure. Code is stable and machine readable, Status is
// the HTTP status the boundary maps it to, and Context carries extra fields
// that are merged into the JSON error body.
type Error struct {
	Code    string
	Status  int
	Message string
	Context map[string]any
}

func (e *Error) Error() string {
	return e.Code + ": " + e.Message
}

// Body returns the JSON error body written at the HTTP boundary.
func (e *Error) Body() map[string]any {
	body := make(map[string]any, len(e.Context)+2)
	for k, v := range e.Context {
		body[k] = v
	}
	body["error_code"] = e.Code
	body["message"] = e.Message
	return body
}

// AsError extracts a *Error from err's chain.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// HasCode reports whether err carries a *Error with the given code.
func HasCode(err error, code string) bool {
	e, ok := AsError(err)
	return ok && e.Code == code
}

func newError(status int, code string, ctx map[string]any, format string, args ...any) *Error {
	return &Error{Code: code, Status: status, Message: fmt.Sprintf(format, args...), Context: ctx}
}

// Error codes.
const (
	CodeItemDoesNotExist          = "ItemDoesNotExist"
	CodeWrongRevision             = "WrongRevision"
	CodeNoItemRevision            = "NoItemRevision"
	CodeCannotAddWithID           = "CannotAddWithId"
	CodeCannotAddWithRevision     = "CannotAddWithRevision"
	CodeIDMismatch                = "IdMismatch"
	CodeNotAMapping               = "ItemNotAMapping"
	CodeMissingKeys               = "ItemMissingKeys"
	CodeUnknownKeys               = "ItemUnknownKeys"
	CodeWrongValueType            = "ItemWrongValueType"
	CodeListElementWrongType      = "ItemListElementWrongType"
	CodeTypeFieldMissing          = "ItemTypeFieldMissing"
	CodeTypeFieldMismatch         = "ItemTypeFieldMismatch"
	CodeBadSearchCondition        = "BadSearchCondition"
	CodeBadAnySearchValue         = "BadAnySearchValue"
	CodeMissingAnyOperator        = "MissingAnyOperator"
	CodeInvalidAnyOperator        = "InvalidAnyOperator"
	CodeBadLimitValue             = "BadLimitValue"
	CodeBadOffsetValue            = "BadOffsetValue"
	CodeLimitWithoutSort          = "LimitWithoutSortError"
	CodeFieldNotInResource        = "FieldNotInResource"
	CodeBadSearchValue            = "BadSearchValue"
	CodeTooDeeplyNestedPrototype  = "TooDeeplyNestedPrototype"
	CodeUnknownFieldType          = "UnknownFieldType"
	CodeInvalidFieldName          = "InvalidFieldName"
	CodeReservedFieldName         = "ReservedFieldName"
	CodeInvalidTableCoordinates   = "InvalidTableCoordinates"
	CodeNoSuchSubpath             = "NoSuchSubpath"
	CodeUnauthorized              = "Unauthorized"
	CodeForbidden                 = "Forbidden"
	CodeNotFound                  = "NotFound"
	CodeLengthRequired            = "LengthRequired"
	CodeUnsupportedMediaType      = "UnsupportedMediaType"
	CodeBadRequestBody            = "BadRequestBody"
	CodeInvalidResourceType       = "InvalidResourceType"
	CodeNotificationWrongListener = "NotificationWrongListener"
)

func ErrItemDoesNotExist(id string) *Error {
	return newError(http.StatusNotFound, CodeItemDoesNotExist, map[string]any{"item_id": id},
		"item %q does not exist", id)
}

// ErrWrongRevision reports an optimistic-concurrency conflict.
func ErrWrongRevision(id, current, attempted string) *Error {
	return newError(http.StatusConflict, CodeWrongRevision,
		map[string]any{"item_id": id, "current": current, "update": attempted},
		"updating %q failed: current revision is %q, update wants %q", id, current, attempted)
}

func ErrNoItemRevision(id string) *Error {
	return newError(http.StatusConflict, CodeNoItemRevision, map[string]any{"item_id": id},
		"item %q update has no revision", id)
}

func ErrCannotAddWithID(id string) *Error {
	return newError(http.StatusBadRequest, CodeCannotAddWithID, map[string]any{"id": id},
		"new item must not have an id, got %q", id)
}

func ErrCannotAddWithRevision(revision string) *Error {
	return newError(http.StatusBadRequest, CodeCannotAddWithRevision, map[string]any{"revision": revision},
		"new item must not have a revision, got %q", revision)
}

func ErrIDMismatch(pathID, bodyID string) *Error {
	return newError(http.StatusBadRequest, CodeIDMismatch, map[string]any{"id": pathID, "body_id": bodyID},
		"item id %q in body does not match %q", bodyID, pathID)
}

func ErrNotAMapping(field string) *Error {
	return newError(http.StatusBadRequest, CodeNotAMapping, map[string]any{"field": field},
		"%s must be a JSON object", nonEmpty(field, "item"))
}

func ErrMissingKeys(field string, keys []string) *Error {
	return newError(http.StatusBadRequest, CodeMissingKeys, map[string]any{"field": field, "keys": keys},
		"%s is missing keys: %s", nonEmpty(field, "item"), strings.Join(keys, ", "))
}

func ErrUnknownKeys(field string, keys []string) *Error {
	return newError(http.StatusBadRequest, CodeUnknownKeys, map[string]any{"field": field, "keys": keys},
		"%s has unknown keys: %s", nonEmpty(field, "item"), strings.Join(keys, ", "))
}

func ErrWrongValueType(field string, want Kind) *Error {
	return newError(http.StatusBadRequest, CodeWrongValueType, map[string]any{"field": field, "expected": want.String()},
		"%s must be %s", field, want.Describe())
}

func ErrListElementWrongType(field string, want Kind) *Error {
	return newError(http.StatusBadRequest, CodeListElementWrongType, map[string]any{"field": field, "expected": want.String()},
		"elements of %s must be %s", field, want.Describe())
}

func ErrTypeFieldMissing(want string) *Error {
	return newError(http.StatusBadRequest, CodeTypeFieldMissing, map[string]any{"field": "type"},
		"item must have type %q", want)
}

func ErrTypeFieldMismatch(want, got string) *Error {
	return newError(http.StatusBadRequest, CodeTypeFieldMismatch, map[string]any{"field": "type", "expected": want, "actual": got},
		"item type is %q, must be %q", got, want)
}

func ErrBadSearchCondition(format string, args ...any) *Error {
	return newError(http.StatusBadRequest, CodeBadSearchCondition, nil, format, args...)
}

func ErrBadAnySearchValue(value string) *Error {
	return newError(http.StatusBadRequest, CodeBadAnySearchValue, map[string]any{"value": value},
		"value of an any search must be a JSON list, got %q", value)
}

func ErrMissingAnyOperator() *Error {
	return newError(http.StatusBadRequest, CodeMissingAnyOperator, nil, "any must be followed by an operator")
}

func ErrInvalidAnyOperator(op string) *Error {
	return newError(http.StatusBadRequest, CodeInvalidAnyOperator, map[string]any{"operator": op},
		"operator %q cannot be used with any", op)
}

func ErrBadLimitValue(value string) *Error {
	return newError(http.StatusBadRequest, CodeBadLimitValue, map[string]any{"value": value},
		"limit must be a non-negative integer, got %q", value)
}

func ErrBadOffsetValue(value string) *Error {
	return newError(http.StatusBadRequest, CodeBadOffsetValue, map[string]any{"value": value},
		"offset must be a non-negative integer, got %q", value)
}

func ErrLimitWithoutSort() *Error {
	return newError(http.StatusBadRequest, CodeLimitWithoutSort, nil, "limit and offset require sort")
}

func ErrFieldNotInResource(field string) *Error {
	return newError(http.StatusBadRequest, CodeFieldNotInResource, map[string]any{"field": field},
		"resource has no field %q", field)
}

func ErrBadSearchValue(field, value string) *Error {
	return newError(http.StatusBadRequest, CodeBadSearchValue, map[string]any{"field": field, "value": value},
		"%q is not a valid value for field %q", value, field)
}

func ErrTooDeeplyNestedPrototype(field string) *Error {
	return newError(http.StatusInternalServerError, CodeTooDeeplyNestedPrototype, map[string]any{"field": field},
		"list of records %q is nested too deeply", field)
}

func ErrUnknownFieldType(field string, value any) *Error {
	return newError(http.StatusInternalServerError, CodeUnknownFieldType, map[string]any{"field": field},
		"field %q has unsupported prototype value %#v", field, value)
}

func ErrInvalidFieldName(name string) *Error {
	return newError(http.StatusInternalServerError, CodeInvalidFieldName, map[string]any{"field": name},
		"%q is not a valid name", name)
}

func ErrReservedFieldName(name string) *Error {
	return newError(http.StatusInternalServerError, CodeReservedFieldName, map[string]any{"field": name},
		"%q is reserved inside lists of records", name)
}

func ErrInvalidTableCoordinates(format string, args ...any) *Error {
	return newError(http.StatusInternalServerError, CodeInvalidTableCoordinates, nil, format, args...)
}

func ErrInvalidResourceType(format string, args ...any) *Error {
	return newError(http.StatusInternalServerError, CodeInvalidResourceType, nil, format, args...)
}

func ErrNoSuchSubpath(name string) *Error {
	return newError(http.StatusNotFound, CodeNoSuchSubpath, map[string]any{"subpath": name},
		"no sub-path %q", name)
}

func ErrUnauthorized(reason string) *Error {
	return newError(http.StatusUnauthorized, CodeUnauthorized, nil, "%s", reason)
}

func ErrForbidden(scope string) *Error {
	return newError(http.StatusForbidden, CodeForbidden, map[string]any{"scope": scope},
		"token lacks scope %q", scope)
}

func ErrNotFound(path string) *Error {
	return newError(http.StatusNotFound, CodeNotFound, map[string]any{"path": path}, "%s not found", path)
}

func ErrLengthRequired() *Error {
	return newError(http.StatusLengthRequired, CodeLengthRequired, nil, "request body length is required")
}

func ErrUnsupportedMediaType(contentType string) *Error {
	return newError(http.StatusUnsupportedMediaType, CodeUnsupportedMediaType, map[string]any{"content_type": contentType},
		"unsupported content type %q", contentType)
}

func ErrBadRequestBody(reason string) *Error {
	return newError(http.StatusBadRequest, CodeBadRequestBody, nil, "%s", reason)
}

func ErrNotificationWrongListener(id, listenerID string) *Error {
	return newError(http.StatusNotFound, CodeNotificationWrongListener,
		map[string]any{"item_id": id, "listener_id": listenerID},
		"notification %q does not belong to listener %q", id, listenerID)
}

func nonEmpty(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
