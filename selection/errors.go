package selection

import "errors"

var (
	// ErrUnknownMethod is returned when the configured method is not supported.
	ErrUnknownMethod = errors.New("unknown selection method")

	// ErrUnknownAlternative is returned when the chosen alternative does not exist.
	ErrUnknownAlternative = errors.New("unknown alternative")

	// ErrUnknownParamType is returned when param_type is not one of ParamTypes.
	ErrUnknownParamType = errors.New("unknown param type")
)
