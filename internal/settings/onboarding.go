package settings

import (
	"errors"
	"fmt"
)

// ErrNoCredential is returned by Answer when the flow reaches finalization
// with zero LLM credentials; the flow loops back to re-collect them instead
// of writing an incomplete document.
var ErrNoCredential = errors.New("at least one API key is required: Anthropic, OpenAI, or OpenRouter")

type FlowState int

const (
	StateNotStarted FlowState = iota
	StateCollecting
	StateComplete
	StateCancelled
)

// Prompt describes what to ask the user next.
type Prompt struct {
	Field   Field
	Default string // environment-derived, may be empty
	Retry   bool   // true during the re-collect pass after a failed finalize
}

// Flow is the onboarding state machine. It collects one field at a time in
// declared order, validates each answer with the same rules as Store.Set,
// and writes the completed document in a single atomic step at the end.
// Nothing touches disk until then, so cancelling mid-flow leaves the
// existing settings file exactly as it was.
//
// Inputs arrive through Answer, which makes the flow drivable both by the
// interactive wizard and by a scripted sequence in tests.
type Flow struct {
	store    *Store
	queue    []Field
	idx      int
	answers  map[string]string
	defaults map[string]string
	state    FlowState
	retrying bool
	doc      Document
}

// NewFlow builds a flow seeded with environment-variable defaults.
// lookupEnv is os.Getenv in production.
func NewFlow(store *Store, lookupEnv func(string) string) *Flow {
	defaults := make(map[string]string)
	for _, f := range Fields() {
		if f.EnvVar == "" {
			continue
		}
		if v := lookupEnv(f.EnvVar); v != "" {
			defaults[f.Name] = v
		}
	}
	return &Flow{
		store:    store,
		queue:    Fields(),
		answers:  make(map[string]string),
		defaults: defaults,
		state:    StateNotStarted,
	}
}

func (f *Flow) State() FlowState {
	return f.state
}

// Current returns the prompt for the field being collected. ok is false
// once the flow has finished or was cancelled.
func (f *Flow) Current() (Prompt, bool) {
	if f.state == StateComplete || f.state == StateCancelled {
		return Prompt{}, false
	}
	if f.idx >= len(f.queue) {
		return Prompt{}, false
	}
	field := f.queue[f.idx]
	return Prompt{
		Field:   field,
		Default: f.defaults[field.Name],
		Retry:   f.retrying,
	}, true
}

// Answer consumes the user's input for the current field. Empty input
// falls back to the environment default, or skips the field when no
// default exists. A validation failure keeps the flow on the same field.
// done is true once the completed document has been written.
func (f *Flow) Answer(input string) (done bool, err error) {
	switch f.state {
	case StateComplete:
		return true, nil
	case StateCancelled:
		return false, errors.New("onboarding was cancelled")
	}
	f.state = StateCollecting

	field := f.queue[f.idx]
	value := input
	if value == "" {
		value = f.defaults[field.Name]
	}

	if value == "" {
		// Skip rule: any field may be left empty during the first pass;
		// completeness is checked only at finalize. During the retry pass
		// the last remaining credential cannot be skipped while the
		// invariant is still unmet.
		if f.retrying && field.Credential && f.idx == len(f.queue)-1 && !f.collected().Complete() {
			return false, ErrNoCredential
		}
	} else {
		scratch := f.collected()
		if err := scratch.Set(field.Name, value); err != nil {
			return false, err
		}
		f.answers[field.Name] = value
	}

	f.idx++
	if f.idx < len(f.queue) {
		return false, nil
	}
	return f.finalize()
}

// finalize enforces the completeness invariant and performs the single
// atomic write. An incomplete document is never written: the flow loops
// back over the credential fields instead.
func (f *Flow) finalize() (bool, error) {
	doc := f.collected()
	if !doc.Complete() {
		f.retrying = true
		f.queue = credentialFields()
		f.idx = 0
		return false, ErrNoCredential
	}
	if err := f.store.Write(doc); err != nil {
		return false, fmt.Errorf("finalize onboarding: %w", err)
	}
	f.doc = doc
	f.state = StateComplete
	return true, nil
}

// Cancel abandons the flow. Answers already given are discarded and the
// on-disk document is untouched.
func (f *Flow) Cancel() {
	if f.state != StateComplete {
		f.state = StateCancelled
	}
}

// Document returns the finalized document; valid only after completion.
func (f *Flow) Document() Document {
	return f.doc
}

// collected materializes the answers gathered so far on top of defaults.
// Answers were validated on entry, so Set cannot fail here.
func (f *Flow) collected() Document {
	doc := DefaultDocument()
	for name, value := range f.answers {
		_ = doc.Set(name, value)
	}
	return doc
}

func credentialFields() []Field {
	var out []Field
	for _, field := range Fields() {
		if field.Credential {
			out = append(out, field)
		}
	}
	return out
}
