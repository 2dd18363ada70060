package flow

type ResultType string

const (
	ResultForm        ResultType = "form"
	ResultCreateEntry ResultType = "create_entry"
	ResultAbort       ResultType = "abort"
)

// Common abort reasons.
const (
	ReasonAlreadyConfigured     = "already_configured"
	ReasonReconfigureSuccessful = "reconfigure_successful"
	ReasonUnknown               = "unknown"
)

// Result is the outcome of one flow step: a form to show, a record to
// create, or an abort with a reason.
type Result struct {
	Type    ResultType
	FlowID  string
	Handler string
	StepID  string

	Schema Schema
	Errors map[string]string

	Reason string

	Title string
	Data  map[string]any
	// EntryID and SubentryID identify the record a create_entry result produced.
	EntryID    string
	SubentryID string
}

func ShowForm(stepID string, schema Schema, errors map[string]string) *Result {
	if errors == nil {
		errors = map[string]string{}
	}
	return &Result{Type: ResultForm, StepID: stepID, Schema: schema, Errors: errors}
}

func CreateEntry(title string, data map[string]any) *Result {
	return &Result{Type: ResultCreateEntry, Title: title, Data: data}
}

func Abort(reason string) *Result {
	return &Result{Type: ResultAbort, Reason: reason}
}
