package persona

import "errors"

var (
	// ErrNotPluginPersona guards deletion of personas this service did not create.
	ErrNotPluginPersona = errors.New("persona was not created by this service")
	// ErrCompressionRejected marks a shrink or auto-compress result that
	// failed the length checks; the original text is kept.
	ErrCompressionRejected = errors.New("compression result rejected")
)
