package cauth

// Result is the outcome of an engine operation. Exactly one of Value or
// Errors is meaningful, selected by Success.
type Result[T any] struct {
	Success bool     `json:"success"`
	Value   T        `json:"value,omitempty"`
	Errors  []*Error `json:"errors,omitempty"`
}

// Err returns the first failure, or nil on success.
func (r Result[T]) Err() error {
	if r.Success || len(r.Errors) == 0 {
		return nil
	}
	return r.Errors[0]
}

// Code returns the code of the first failure, or "".
func (r Result[T]) Code() string {
	if r.Success || len(r.Errors) == 0 {
		return ""
	}
	return r.Errors[0].Code
}

func ok[T any](v T) Result[T] {
	return Result[T]{Success: true, Value: v}
}

// fail copies each error so callers never hold the exported sentinels.
func fail[T any](errs ...*Error) Result[T] {
	out := make([]*Error, len(errs))
	for i, e := range errs {
		out[i] = e.with(e.Message)
	}
	return Result[T]{Errors: out}
}
