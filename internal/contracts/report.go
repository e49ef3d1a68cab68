package contracts

import "strings"

// Report captures validation results for one module invocation.
type Report struct {
	Module string
	Params map[string]any
	Errors []error
}

// Check runs spec validation and wraps the outcome in a report.
func Check(moduleID string, spec Spec, raw map[string]any) *Report {
	params, errs := spec.Validate(raw)
	return &Report{Module: moduleID, Params: params, Errors: errs}
}

// IsValid reports whether the validation passed.
func (r *Report) IsValid() bool {
	return r != nil && len(r.Errors) == 0
}

// Summary joins every violation into a single message.
func (r *Report) Summary() string {
	if r.IsValid() {
		return ""
	}
	msgs := make([]string, 0, len(r.Errors))
	for _, err := range r.Errors {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}
