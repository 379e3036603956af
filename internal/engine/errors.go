package engine

import "errors"

// Error kinds surfaced by facade operations. The HTTP collaborator maps them
// to response codes with errors.Is.
var (
	ErrNotFound       = errors.New("bot not found")
	ErrForbidden      = errors.New("not authorized")
	ErrAlreadyRunning = errors.New("bot is already running")
	ErrValidation     = errors.New("validation failed")
	ErrVeto           = errors.New("start vetoed by risk analysis")
	ErrWorkspace      = errors.New("workspace materialization failed")
	ErrSpawn          = errors.New("failed to spawn bot process")
)

// Result is the discriminated outcome of a facade operation.
type Result struct {
	OK      bool   `json:"ok"`
	Message string `json:"message"`
}
