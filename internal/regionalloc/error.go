package regionalloc

// Expected failure modes are reported as sentinel errors. The allocator never
// logs, retries or falls back internally; retry policy (e.g. trying the other
// end of the region) belongs to the caller, which understands the
// fragmentation implications of the two allocation directions.
var (
	ErrInvalidRange     = &AllocError{"region bounds are empty or inverted"}
	ErrInvalidSize      = &AllocError{"allocation size must be greater than zero"}
	ErrNoSpace          = &AllocError{"no free chunk is large enough"}
	ErrRangeUnavailable = &AllocError{"requested range is not contained in a single free chunk"}
	ErrNotFound         = &AllocError{"no chunk starts at the given address"}
	ErrWrongState       = &AllocError{"chunk state does not permit the operation"}
)

type AllocError struct {
	Msg string
}

func (e *AllocError) Error() string {
	return e.Msg
}

func (e *AllocError) Is(target error) bool {
	if targetErr, ok := target.(*AllocError); ok {
		return e.Msg == targetErr.Msg
	}
	return false
}
