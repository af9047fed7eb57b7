package errors

import "net/http"

// HTTPStatus maps an error chain to the status code the API surface
// should return. Unknown errors map to 500.
func HTTPStatus(err error) int {
	if err == nil {
		return http.StatusOK
	}
	switch KindOf(err) {
	case KindNotFound:
		return http.StatusNotFound
	case KindInvalidPath, KindConflict:
		return http.StatusBadRequest
	case KindPermissionDenied:
		return http.StatusForbidden
	case KindStoreUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
