package relay

// Result is the outcome of one relay call: either data or an error, never
// both.
type Result struct {
	data map[string]any
	err  error
}

// Ok wraps a successful payload. A nil map becomes an empty one.
func Ok(data map[string]any) Result {
	if data == nil {
		data = map[string]any{}
	}
	return Result{data: data}
}

// Err wraps a failure.
func Err(err error) Result {
	return Result{err: err}
}

func (r Result) IsOk() bool { return r.err == nil }

// Data returns the payload of a successful result, or nil.
func (r Result) Data() map[string]any { return r.data }

// Err returns the failure, or nil.
func (r Result) Err() error { return r.err }

// Envelope is the uniform wire shape of every relay response.
type Envelope struct {
	Success bool           `json:"success"`
	Data    map[string]any `json:"data"`
	Error   string         `json:"error,omitempty"`
}

// Envelope converts r to its wire shape. Failures carry empty data and a
// non-empty error.
func (r Result) Envelope() Envelope {
	if r.err != nil {
		msg := r.err.Error()
		if msg == "" {
			msg = "unknown error"
		}
		return Envelope{Success: false, Data: map[string]any{}, Error: msg}
	}
	data := r.data
	if data == nil {
		data = map[string]any{}
	}
	return Envelope{Success: true, Data: data}
}
