package sandbox

import "context"

// Fake is an in-memory Adapter for tests. Results queues up canned
// responses returned in order; when exhausted, Execute falls back to Fn if
// set, or else returns an empty Result.
type Fake struct {
	Results []Result
	Errs    []error
	Fn      func(ctx context.Context, req Request) (Result, error)

	Calls []Request

	next int
}

// Execute records the request and returns the next queued result, or
// delegates to Fn.
func (f *Fake) Execute(ctx context.Context, req Request) (Result, error) {
	f.Calls = append(f.Calls, req)

	if f.next < len(f.Results) {
		res := f.Results[f.next]
		var err error
		if f.next < len(f.Errs) {
			err = f.Errs[f.next]
		}
		f.next++
		return res, err
	}
	if f.Fn != nil {
		return f.Fn(ctx, req)
	}
	return Result{}, nil
}
