package loader

import "errors"

var (
	// ErrNoSources indicates neither a cache path nor a source URL was
	// configured; the loader finishes immediately without any I/O.
	ErrNoSources = errors.New("no_sources_configured")

	// ErrUnavailable indicates the cache could not supply a model and no
	// download source is configured.
	ErrUnavailable = errors.New("model_unavailable")

	// ErrAttemptsExhausted indicates every permitted download attempt
	// failed or was rejected by validation.
	ErrAttemptsExhausted = errors.New("download_attempts_exhausted")
)
