package template

// TemplateError attaches template context to an engine failure. Cause is the
// next link of the chain; Message is this link's own text and may be empty.
type TemplateError struct {
	Message string
	// Template is the name of the template the failure belongs to. Empty for
	// templates compiled from literal text.
	Template string
	// Line is 1-based; zero means unknown.
	Line  int
	Cause error
}

func (e *TemplateError) Error() string {
	switch {
	case e.Cause == nil:
		return e.Message
	case e.Message == "":
		return e.Cause.Error()
	default:
		return e.Message + ": " + e.Cause.Error()
	}
}

// Unwrap returns the cause.
func (e *TemplateError) Unwrap() error {
	return e.Cause
}
