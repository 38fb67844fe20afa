package machines

import "github.com/petrijr/conductor/pkg/api"

var workflowTable = buildWorkflowTable()

// WorkflowTable returns the shared workflow transition table.
func WorkflowTable() *Table { return workflowTable }

// NewWorkflowMachine returns a machine over the shared workflow table.
func NewWorkflowMachine() *Machine { return NewMachine(workflowTable) }

func taskKey(s api.Status, act Activity, census Census) EventKey {
	return EventKey{Kind: api.TaskKind(s), Activity: act, Census: census}
}

func buildWorkflowTable() *Table {
	t := newTable()
	starting := list(api.StatusRequested, api.StatusScheduled, api.StatusDelayed)
	running := append(append(list(), starting...), api.StatusRunning, api.StatusResuming)

	// Explicit workflow requests.
	order := map[api.Status]int{api.StatusUnset: 0, api.StatusRequested: 1, api.StatusScheduled: 2, api.StatusDelayed: 3}
	for _, from := range append(list(api.StatusUnset), starting...) {
		for _, to := range starting {
			if order[to] > order[from] {
				t.add(from, Plain(api.WorkflowKind(to)), to)
			}
		}
		t.add(from, Plain(api.WorkflowKind(api.StatusRunning)), api.StatusRunning)
		for _, s := range list(api.StatusRequested, api.StatusScheduled, api.StatusDelayed, api.StatusRunning) {
			t.add(from, Plain(api.TaskKind(s)), api.StatusRunning)
		}
	}
	t.add(api.StatusUnset, EventKey{Kind: api.WorkflowKind(api.StatusCanceling), Activity: Dormant}, api.StatusCanceled)
	t.add(api.StatusResuming, Plain(api.WorkflowKind(api.StatusRunning)), api.StatusRunning)
	for _, s := range list(api.StatusRequested, api.StatusScheduled, api.StatusDelayed, api.StatusRunning) {
		t.add(api.StatusResuming, Plain(api.TaskKind(s)), api.StatusRunning)
	}

	for _, from := range append(append(list(api.StatusUnset), running...), api.StatusPausing, api.StatusPaused, api.StatusCanceling, api.StatusSucceeded) {
		t.add(from, Plain(api.WorkflowKind(api.StatusFailed)), api.StatusFailed)
	}
	for _, from := range append(append(list(), running...), api.StatusPausing) {
		t.add(from, Plain(api.WorkflowKind(api.StatusSucceeded)), api.StatusSucceeded)
	}
	for _, from := range append(append(list(), running...), api.StatusPausing, api.StatusPaused, api.StatusCanceling) {
		t.add(from, Plain(api.WorkflowKind(api.StatusCanceled)), api.StatusCanceled)
	}

	for _, from := range running {
		runningRows(t, from)
	}
	pausingRows(t)
	pausedRows(t)
	cancelingRows(t)
	return t
}

// runningRows covers task completions and requests while the workflow runs.
func runningRows(t *Table, from api.Status) {
	for _, kind := range []api.EventKind{api.TaskKind(api.StatusSucceeded), api.TaskRemediated} {
		t.add(from, EventKey{kind, Active, CensusCanceled}, api.StatusCanceling)
		t.add(from, EventKey{kind, Dormant, CensusCanceled}, api.StatusCanceled)
		t.add(from, EventKey{kind, Active, CensusPaused}, api.StatusPausing)
		t.add(from, EventKey{kind, Dormant, CensusPaused}, api.StatusPaused)
		t.add(from, EventKey{kind, Active, CensusIncomplete}, api.StatusRunning)
		t.add(from, EventKey{kind, Dormant, CensusIncomplete}, api.StatusRunning)
		t.add(from, EventKey{kind, Active, CensusCompleted}, api.StatusRunning)
		t.add(from, EventKey{kind, Dormant, CensusCompleted}, api.StatusSucceeded)
	}

	for _, s := range abended {
		for _, act := range activities {
			t.add(from, taskKey(s, act, CensusNone), api.StatusFailed)
		}
	}
	for _, s := range list(api.StatusPending, api.StatusPaused) {
		t.add(from, taskKey(s, Active, CensusNone), api.StatusPausing)
		t.add(from, taskKey(s, Dormant, CensusNone), api.StatusPaused)
	}
	t.add(from, taskKey(api.StatusCanceled, Active, CensusNone), api.StatusCanceling)
	t.add(from, taskKey(api.StatusCanceled, Dormant, CensusNone), api.StatusCanceled)

	pausing := api.WorkflowKind(api.StatusPausing)
	canceling := api.WorkflowKind(api.StatusCanceling)
	t.add(from, EventKey{Kind: pausing, Activity: Active}, api.StatusPausing)
	t.add(from, EventKey{Kind: pausing, Activity: Dormant}, api.StatusPaused)
	t.add(from, EventKey{Kind: canceling, Activity: Active}, api.StatusCanceling)
	t.add(from, EventKey{Kind: canceling, Activity: Dormant}, api.StatusCanceled)
}

func pausingRows(t *Table) {
	from := api.StatusPausing
	for _, kind := range []api.EventKind{api.TaskKind(api.StatusSucceeded), api.TaskRemediated} {
		t.add(from, EventKey{kind, Active, CensusCanceled}, api.StatusCanceling)
		t.add(from, EventKey{kind, Dormant, CensusCanceled}, api.StatusCanceled)
		t.add(from, EventKey{kind, Dormant, CensusPaused}, api.StatusPaused)
		t.add(from, EventKey{kind, Dormant, CensusIncomplete}, api.StatusPaused)
		// A pause always settles in paused; resuming finishes the workflow.
		t.add(from, EventKey{kind, Dormant, CensusCompleted}, api.StatusPaused)
	}
	for _, s := range abended {
		for _, act := range activities {
			t.add(from, taskKey(s, act, CensusNone), api.StatusFailed)
		}
	}
	for _, s := range list(api.StatusPending, api.StatusPaused) {
		t.add(from, taskKey(s, Dormant, CensusNone), api.StatusPaused)
	}
	t.add(from, taskKey(api.StatusCanceled, Active, CensusNone), api.StatusCanceling)
	t.add(from, taskKey(api.StatusCanceled, Dormant, CensusNone), api.StatusCanceled)

	canceling := api.WorkflowKind(api.StatusCanceling)
	t.add(from, EventKey{Kind: canceling, Activity: Active}, api.StatusCanceling)
	t.add(from, EventKey{Kind: canceling, Activity: Dormant}, api.StatusCanceled)
	t.add(from, Plain(api.WorkflowKind(api.StatusResuming)), api.StatusRunning)
	t.add(from, EventKey{Kind: api.WorkflowKind(api.StatusResuming), Census: CensusIncomplete}, api.StatusRunning)
	t.add(from, EventKey{Kind: api.WorkflowKind(api.StatusResuming), Census: CensusCompleted}, api.StatusRunning)
	t.add(from, Plain(api.WorkflowKind(api.StatusPaused)), api.StatusPaused)
}

func pausedRows(t *Table) {
	from := api.StatusPaused
	resuming := api.WorkflowKind(api.StatusResuming)
	t.add(from, EventKey{Kind: resuming, Census: CensusIncomplete}, api.StatusResuming)
	t.add(from, EventKey{Kind: resuming, Census: CensusCompleted}, api.StatusSucceeded)
	t.add(from, Plain(resuming), api.StatusResuming)

	canceling := api.WorkflowKind(api.StatusCanceling)
	for _, act := range activities {
		t.add(from, EventKey{Kind: canceling, Activity: act}, api.StatusCanceled)
	}

	for _, kind := range []api.EventKind{api.TaskKind(api.StatusSucceeded), api.TaskRemediated} {
		t.add(from, EventKey{kind, Dormant, CensusCompleted}, api.StatusSucceeded)
		t.add(from, EventKey{kind, Dormant, CensusCanceled}, api.StatusCanceled)
	}
	for _, s := range abended {
		for _, act := range activities {
			t.add(from, taskKey(s, act, CensusNone), api.StatusFailed)
		}
	}
	t.add(from, taskKey(api.StatusCanceled, Dormant, CensusNone), api.StatusCanceled)
}

func cancelingRows(t *Table) {
	from := api.StatusCanceling
	for _, kind := range []api.EventKind{api.TaskKind(api.StatusSucceeded), api.TaskRemediated} {
		for _, c := range censuses {
			t.add(from, EventKey{kind, Dormant, c}, api.StatusCanceled)
		}
	}
	for _, s := range append(append(list(), abended...), api.StatusPending, api.StatusPaused, api.StatusCanceled) {
		t.add(from, taskKey(s, Dormant, CensusNone), api.StatusCanceled)
	}
}
