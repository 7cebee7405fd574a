package domain

// Transition describes one legal edge of the appointment lifecycle.
type Transition struct {
	Action LogAction
	From   AppointmentStatus
	To     AppointmentStatus
	// OwnerOnly restricts the transition to the doctor who owns the appointment.
	OwnerOnly bool
}

var transitions = map[LogAction]Transition{
	ActionStarted:  {Action: ActionStarted, From: StatusScheduled, To: StatusInProgress, OwnerOnly: true},
	ActionFinished: {Action: ActionFinished, From: StatusInProgress, To: StatusFinished, OwnerOnly: true},
	ActionCanceled: {Action: ActionCanceled, From: StatusScheduled, To: StatusCanceled},
}

// TransitionFor returns the lifecycle edge driven by action. CREATED is not a transition.
func TransitionFor(action LogAction) (Transition, bool) {
	t, ok := transitions[action]
	return t, ok
}

// Apply checks that current may move along t.
func (t Transition) Apply(current AppointmentStatus) (AppointmentStatus, error) {
	if current != t.From {
		return current, ErrInvalidStateTransition
	}
	return t.To, nil
}
