package domain

// JobStatus is the generation job state machine. Transitions only move
// forward; completed and failed are terminal and final. Any transition not
// enumerated below is rejected as stale.
type JobStatus string

const (
	JobQueued     JobStatus = "queued"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
)

var jobTransitions = map[JobStatus][]JobStatus{
	JobQueued:     {JobProcessing, JobCompleted, JobFailed},
	JobProcessing: {JobCompleted, JobFailed},
	JobCompleted:  {},
	JobFailed:     {},
}

// CanTransitionTo reports whether next is an enumerated forward transition.
func (s JobStatus) CanTransitionTo(next JobStatus) bool {
	for _, allowed := range jobTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transitions are permitted.
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed
}

// Valid reports whether s is a known job status.
func (s JobStatus) Valid() bool {
	_, ok := jobTransitions[s]
	return ok
}

// StyleStatus is the style training state machine, with the same terminal
// rules as jobs: once completed or failed, late callbacks are ignored.
type StyleStatus string

const (
	StylePending   StyleStatus = "pending"
	StyleTraining  StyleStatus = "training"
	StyleCompleted StyleStatus = "completed"
	StyleFailed    StyleStatus = "failed"
)

var styleTransitions = map[StyleStatus][]StyleStatus{
	StylePending:   {StyleTraining, StyleCompleted, StyleFailed},
	StyleTraining:  {StyleCompleted, StyleFailed},
	StyleCompleted: {},
	StyleFailed:    {},
}

func (s StyleStatus) CanTransitionTo(next StyleStatus) bool {
	for _, allowed := range styleTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

func (s StyleStatus) Terminal() bool {
	return s == StyleCompleted || s == StyleFailed
}

// AspectRatios maps the supported output shapes to their token surcharge,
// added on top of the style's base generation cost. Cost is fixed at submit
// time and never revised by progress callbacks.
var AspectRatios = map[string]int64{
	"1:1": 0,
	"1:2": 10,
	"2:2": 25,
}

// JobCost computes the total token cost for a generation against a style.
func JobCost(style *Style, aspectRatio string) (int64, bool) {
	surcharge, ok := AspectRatios[aspectRatio]
	if !ok {
		return 0, false
	}
	return style.GenerationCost + surcharge, true
}
