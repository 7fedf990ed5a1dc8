package llm

import "errors"

var (
	// ErrEmptyCompletion means the provider answered but returned no text.
	ErrEmptyCompletion = errors.New("llm returned an empty completion")
	// ErrNoProvider means neither a pinned, session, nor default provider exists.
	ErrNoProvider = errors.New("no llm provider available")
	// ErrNoJSONObject means a completion held no parseable JSON object.
	ErrNoJSONObject = errors.New("no json object in completion")
)
