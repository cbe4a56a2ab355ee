package trigger

import "errors"

var (
	// ErrUnsupportedRequest — неизвестный тип запроса custom resource.
	ErrUnsupportedRequest = errors.New("unsupported custom resource request")
)
