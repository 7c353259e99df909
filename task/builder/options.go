package builder

// BuilderOption is a functional option for configuring FlowBuilder.
type BuilderOption func(*FlowBuilder)

// WithFailFast stops the flow at the first hard failure.
//
// Example:
//
//	b := NewFlowBuilder("ecg", WithFailFast(true))
func WithFailFast(failFast bool) BuilderOption {
	return func(b *FlowBuilder) {
		b.failFast = failFast
	}
}

// WithParameters sets parameters shared by every node.
//
// Example:
//
//	b := NewFlowBuilder("ecg", WithParameters(map[string]any{"subject": "s01"}))
func WithParameters(params map[string]any) BuilderOption {
	return func(b *FlowBuilder) {
		for name, value := range params {
			b.parameters[name] = value
		}
	}
}
