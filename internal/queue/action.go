package queue

// ActionKind enumerates the queue actions in causal order.
type ActionKind int

const (
	ActionAddRequested ActionKind = iota
	ActionWillAdd
	ActionDidAdd
	ActionNextItemsShouldExecute
	ActionExecuteItem
	ActionProgressReported
	ActionItemTaskFinished
	ActionTerminationConfirmed
	ActionStart
	ActionStop
)

var actionNames = [...]string{
	ActionAddRequested:           "add_requested",
	ActionWillAdd:                "will_add",
	ActionDidAdd:                 "did_add",
	ActionNextItemsShouldExecute: "next_items_should_execute",
	ActionExecuteItem:            "execute_item",
	ActionProgressReported:       "progress_reported",
	ActionItemTaskFinished:       "item_task_finished",
	ActionTerminationConfirmed:   "termination_confirmed",
	ActionStart:                  "start",
	ActionStop:                   "stop",
}

func (k ActionKind) String() string {
	if int(k) < len(actionNames) {
		return actionNames[k]
	}
	return "unknown"
}

// Action is fed to Reduce. Only the fields relevant to Kind are set.
type Action[I, P any] struct {
	Kind    ActionKind
	ID      ID
	Item    I
	Payload P
}

func addRequested[I, P any](id ID, item I) Action[I, P] {
	return Action[I, P]{Kind: ActionAddRequested, ID: id, Item: item}
}

func willAdd[I, P any](id ID, item I) Action[I, P] {
	return Action[I, P]{Kind: ActionWillAdd, ID: id, Item: item}
}

func didAdd[I, P any](id ID) Action[I, P] {
	return Action[I, P]{Kind: ActionDidAdd, ID: id}
}

func nextItemsShouldExecute[I, P any]() Action[I, P] {
	return Action[I, P]{Kind: ActionNextItemsShouldExecute}
}

func executeItem[I, P any](id ID) Action[I, P] {
	return Action[I, P]{Kind: ActionExecuteItem, ID: id}
}

func progressReported[I, P any](id ID, payload P) Action[I, P] {
	return Action[I, P]{Kind: ActionProgressReported, ID: id, Payload: payload}
}

func itemTaskFinished[I, P any](id ID) Action[I, P] {
	return Action[I, P]{Kind: ActionItemTaskFinished, ID: id}
}

func terminationConfirmed[I, P any](id ID) Action[I, P] {
	return Action[I, P]{Kind: ActionTerminationConfirmed, ID: id}
}

func start[I, P any]() Action[I, P] {
	return Action[I, P]{Kind: ActionStart}
}

func stop[I, P any]() Action[I, P] {
	return Action[I, P]{Kind: ActionStop}
}
