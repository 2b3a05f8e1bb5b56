package protocol

import "errors"

var (
	// ErrInvalidURL means the request URL cannot be parsed or uses another scheme
	ErrInvalidURL = errors.New("invalid request url")

	// ErrAssetNotFound means the path does not resolve to a file inside the assets directory
	ErrAssetNotFound = errors.New("asset not found")

	// ErrAssetRead means the asset exists but could not be read
	ErrAssetRead = errors.New("asset read failed")

	// ErrScriptNotFound means no active script exists for the instance
	ErrScriptNotFound = errors.New("script not found")
)

// outcome maps a serve result to a metrics label.
func outcome(err error) string {
	switch {
	case err == nil:
		return "served"
	case errors.Is(err, ErrAssetNotFound), errors.Is(err, ErrScriptNotFound):
		return "not_found"
	case errors.Is(err, ErrInvalidURL):
		return "invalid"
	default:
		return "error"
	}
}
