package machines

import "github.com/petrijr/conductor/pkg/api"

var (
	abended   = list(api.StatusFailed, api.StatusExpired, api.StatusAbandoned)
	finishing = list(api.StatusSucceeded, api.StatusFailed, api.StatusExpired, api.StatusAbandoned)

	// Statuses in which a task is starting up or running normally.
	progressing = list(api.StatusRequested, api.StatusScheduled, api.StatusDelayed,
		api.StatusRunning, api.StatusResuming)

	activities = []Activity{Active, Dormant}
	censuses   = []Census{CensusPaused, CensusCanceled, CensusFailed, CensusIncomplete, CensusCompleted}
)

var taskTable = buildTaskTable()

// TaskTable returns the shared task transition table.
func TaskTable() *Table { return taskTable }

// NewTaskMachine returns a machine over the shared task table.
func NewTaskMachine() *Machine { return NewMachine(taskTable) }

func buildTaskTable() *Table {
	t := newTable()
	plainActionRows(t)
	itemActionRows(t)
	workflowRows(t)

	t.add(api.StatusUnset, Plain(api.TaskNoopRequested), api.StatusSucceeded)
	t.add(api.StatusUnset, Plain(api.TaskFailRequested), api.StatusFailed)
	for _, from := range finishing {
		t.add(from, Plain(api.TaskRetryRequested), api.StatusRetrying)
	}
	return t
}

// plainActionRows covers action events without an item id.
func plainActionRows(t *Table) {
	order := map[api.Status]int{
		api.StatusUnset: 0, api.StatusRequested: 1, api.StatusScheduled: 2, api.StatusDelayed: 3,
	}
	early := list(api.StatusUnset, api.StatusRequested, api.StatusScheduled, api.StatusDelayed)

	for _, from := range early {
		for _, to := range list(api.StatusRequested, api.StatusScheduled, api.StatusDelayed) {
			if order[to] > order[from] {
				t.add(from, Plain(api.ActionKind(to)), to)
			}
		}
	}
	for _, from := range append(early, api.StatusRunning, api.StatusResuming) {
		t.add(from, Plain(api.ActionKind(api.StatusRunning)), api.StatusRunning)
		for _, to := range tail {
			t.add(from, Plain(api.ActionKind(to)), to)
		}
	}

	t.add(api.StatusPausing, Plain(api.ActionKind(api.StatusRunning)), api.StatusRunning)
	for _, to := range list(api.StatusPaused, api.StatusPending, api.StatusCanceling, api.StatusCanceled) {
		t.add(api.StatusPausing, Plain(api.ActionKind(to)), to)
	}
	for _, from := range list(api.StatusPaused, api.StatusPending) {
		for _, to := range list(api.StatusResuming, api.StatusRunning, api.StatusCanceling, api.StatusCanceled) {
			t.add(from, Plain(api.ActionKind(to)), to)
		}
	}
	t.add(api.StatusCanceling, Plain(api.ActionKind(api.StatusCanceled)), api.StatusCanceled)

	for _, from := range list(api.StatusPausing, api.StatusPaused, api.StatusPending, api.StatusCanceling) {
		for _, to := range finishing {
			t.add(from, Plain(api.ActionKind(to)), to)
		}
	}

	for _, to := range list(api.StatusRequested, api.StatusScheduled, api.StatusDelayed, api.StatusRunning) {
		t.add(api.StatusRetrying, Plain(api.ActionKind(to)), to)
	}
}

// itemActionRows covers action events of with-items tasks. The key carries
// whether other items are active and the census of the other items.
func itemActionRows(t *Table) {
	eventStatuses := list(api.StatusRequested, api.StatusScheduled, api.StatusDelayed,
		api.StatusRunning, api.StatusPending, api.StatusPausing, api.StatusPaused,
		api.StatusResuming, api.StatusCanceling, api.StatusCanceled,
		api.StatusSucceeded, api.StatusFailed, api.StatusExpired, api.StatusAbandoned)

	froms := append(list(api.StatusUnset), progressing...)
	froms = append(froms, api.StatusPausing, api.StatusPaused, api.StatusPending, api.StatusCanceling)

	for _, from := range froms {
		for _, base := range eventStatuses {
			for _, act := range activities {
				for _, census := range censuses {
					if to, ok := itemTarget(from, base, act, census); ok {
						t.add(from, EventKey{Kind: api.ActionKind(base), Activity: act, Census: census}, to)
					}
				}
			}
		}
	}
}

func isOneOf(s api.Status, set []api.Status) bool {
	for _, x := range set {
		if s == x {
			return true
		}
	}
	return false
}

// itemTarget decides the task status after one item reports base.
func itemTarget(from, base api.Status, act Activity, census Census) (api.Status, bool) {
	dormant := act == Dormant

	switch {
	case from == api.StatusUnset || isOneOf(from, progressing):
		switch base {
		case api.StatusRequested, api.StatusScheduled, api.StatusDelayed:
			if from == api.StatusUnset {
				return base, true
			}
			return "", false
		case api.StatusRunning, api.StatusResuming:
			return api.StatusRunning, true
		case api.StatusPending, api.StatusPaused:
			if dormant {
				return api.StatusPaused, true
			}
			return api.StatusPausing, true
		case api.StatusPausing:
			return api.StatusPausing, true
		case api.StatusCanceling:
			return api.StatusCanceling, true
		case api.StatusCanceled:
			if dormant {
				return api.StatusCanceled, true
			}
			return api.StatusCanceling, true
		case api.StatusSucceeded:
			switch census {
			case CensusPaused:
				if dormant {
					return api.StatusPaused, true
				}
				return api.StatusPausing, true
			case CensusCanceled:
				if dormant {
					return api.StatusCanceled, true
				}
				return api.StatusCanceling, true
			case CensusFailed:
				if dormant {
					return api.StatusFailed, true
				}
				return api.StatusRunning, true
			case CensusIncomplete:
				return api.StatusRunning, true
			case CensusCompleted:
				if dormant {
					return api.StatusSucceeded, true
				}
				return api.StatusRunning, true
			}
		default: // abended
			if dormant {
				return base, true
			}
			return api.StatusRunning, true
		}

	case from == api.StatusPausing || from == api.StatusCanceling:
		if !dormant {
			if from == api.StatusPausing && (base == api.StatusCanceled || census == CensusCanceled) {
				return api.StatusCanceling, true
			}
			return "", false
		}
		settled := api.StatusPaused
		if from == api.StatusCanceling {
			settled = api.StatusCanceled
		}
		switch base {
		case api.StatusSucceeded:
			switch census {
			case CensusCompleted:
				return api.StatusSucceeded, true
			case CensusFailed:
				return api.StatusFailed, true
			case CensusCanceled:
				return api.StatusCanceled, true
			}
			return settled, true
		case api.StatusFailed, api.StatusExpired, api.StatusAbandoned:
			return base, true
		case api.StatusCanceled:
			return api.StatusCanceled, true
		case api.StatusPaused, api.StatusPending:
			return settled, true
		}
		return "", false

	case from == api.StatusPaused || from == api.StatusPending:
		switch base {
		case api.StatusRunning, api.StatusResuming:
			return api.StatusRunning, true
		case api.StatusCanceled:
			if dormant {
				return api.StatusCanceled, true
			}
			return api.StatusCanceling, true
		case api.StatusSucceeded:
			if dormant && census == CensusCompleted {
				return api.StatusSucceeded, true
			}
			if dormant && census == CensusFailed {
				return api.StatusFailed, true
			}
		case api.StatusFailed, api.StatusExpired, api.StatusAbandoned:
			if dormant {
				return base, true
			}
		}
		return "", false
	}
	return "", false
}

// workflowRows covers workflow requests pushed to individual tasks.
func workflowRows(t *Table) {
	pausing := api.WorkflowKind(api.StatusPausing)
	canceling := api.WorkflowKind(api.StatusCanceling)
	resuming := api.WorkflowKind(api.StatusResuming)
	itemCensus := []Census{CensusIncomplete, CensusCompleted}

	for _, from := range progressing {
		t.add(from, Plain(pausing), api.StatusPausing)
		t.add(from, Plain(canceling), api.StatusCanceling)
		for _, c := range itemCensus {
			t.add(from, EventKey{Kind: pausing, Activity: Active, Census: c}, api.StatusPausing)
			t.add(from, EventKey{Kind: pausing, Activity: Dormant, Census: c}, api.StatusPaused)
			t.add(from, EventKey{Kind: canceling, Activity: Active, Census: c}, api.StatusCanceling)
			t.add(from, EventKey{Kind: canceling, Activity: Dormant, Census: c}, api.StatusCanceled)
		}
	}

	t.add(api.StatusPausing, Plain(resuming), api.StatusRunning)
	t.add(api.StatusPausing, Plain(canceling), api.StatusCanceling)
	for _, c := range itemCensus {
		for _, act := range activities {
			t.add(api.StatusPausing, EventKey{Kind: resuming, Activity: act, Census: c}, api.StatusRunning)
		}
		t.add(api.StatusPausing, EventKey{Kind: canceling, Activity: Active, Census: c}, api.StatusCanceling)
		t.add(api.StatusPausing, EventKey{Kind: canceling, Activity: Dormant, Census: c}, api.StatusCanceled)
	}

	for _, from := range list(api.StatusPaused, api.StatusPending) {
		t.add(from, Plain(resuming), api.StatusResuming)
		t.add(from, Plain(canceling), api.StatusCanceled)
		for _, c := range itemCensus {
			for _, act := range activities {
				t.add(from, EventKey{Kind: resuming, Activity: act, Census: c}, api.StatusResuming)
				t.add(from, EventKey{Kind: canceling, Activity: act, Census: c}, api.StatusCanceled)
			}
		}
	}
}
