package session

// State is the onboarding position of one user.
type State int

const (
	// Unauthenticated users hold no key and have not been asked for one.
	Unauthenticated State = iota
	// AwaitingKey users accepted the introduction and must send a key.
	AwaitingKey
	// Active users hold a validated key.
	Active
)

func (s State) String() string {
	switch s {
	case Unauthenticated:
		return "unauthenticated"
	case AwaitingKey:
		return "awaiting_key"
	case Active:
		return "active"
	default:
		return "unknown"
	}
}

// Event is an inbound update reduced to what the state machine cares about.
type Event int

const (
	EventStart       Event = iota // /start
	EventContinue                 // "yes" button
	EventDecline                  // "no" button
	EventKey                      // text beginning with the key prefix
	EventKeyAccepted              // key validation succeeded
	EventKeyRejected              // key validation failed
	EventText
	EventDraw
	EventVoice
	EventDocument
	EventForget // /off
	EventFailure
)

func (e Event) String() string {
	switch e {
	case EventStart:
		return "start"
	case EventContinue:
		return "continue"
	case EventDecline:
		return "decline"
	case EventKey:
		return "key"
	case EventKeyAccepted:
		return "key_accepted"
	case EventKeyRejected:
		return "key_rejected"
	case EventText:
		return "text"
	case EventDraw:
		return "draw"
	case EventVoice:
		return "voice"
	case EventDocument:
		return "document"
	case EventForget:
		return "forget"
	case EventFailure:
		return "failure"
	default:
		return "unknown"
	}
}

// Effect is an action the orchestrator performs after a transition, in order.
type Effect int

const (
	Greet         Effect = iota // greeting line and animation
	Introduce                   // skills and the Yes/No keyboard
	WelcomeBack                 // "What Can I Help With"
	PromptKey                   // "Let's Start", animation, "Write your API Key"
	Farewell                    // "See you later", animation
	DeleteMessage               // remove the triggering message
	ValidateKey
	ConfirmKey // masked key and welcome
	RejectKey
	RemindKey
	Chat
	Draw
	Transcribe
	AnswerDocument
	ForgetKey
	NoKeyStored
	ReportError
)

func (e Effect) String() string {
	names := [...]string{
		"greet", "introduce", "welcome_back", "prompt_key", "farewell", "delete_message",
		"validate_key", "confirm_key", "reject_key", "remind_key", "chat", "draw",
		"transcribe", "answer_document", "forget_key", "no_key_stored", "report_error",
	}
	if int(e) < 0 || int(e) >= len(names) {
		return "unknown"
	}
	return names[e]
}

// Transition returns the next state and the effects to run for event in
// state. It has no side effects.
func Transition(state State, event Event) (State, []Effect) {
	if state == Active {
		return active(event)
	}

	switch event {
	case EventStart:
		return Unauthenticated, []Effect{Greet, Introduce}
	case EventContinue:
		return AwaitingKey, []Effect{PromptKey}
	case EventDecline:
		return Unauthenticated, []Effect{Farewell}
	case EventKey:
		return state, []Effect{DeleteMessage, ValidateKey}
	case EventKeyAccepted:
		return Active, []Effect{ConfirmKey}
	case EventKeyRejected:
		return AwaitingKey, []Effect{RejectKey}
	case EventForget:
		return state, []Effect{NoKeyStored}
	}

	// Content or failures without a key.
	if state == AwaitingKey && event != EventFailure {
		return AwaitingKey, []Effect{RemindKey}
	}
	return Unauthenticated, []Effect{Greet, Introduce}
}

func active(event Event) (State, []Effect) {
	switch event {
	case EventStart:
		return Active, []Effect{Greet, WelcomeBack}
	case EventContinue:
		return Active, []Effect{WelcomeBack}
	case EventDecline:
		return Active, []Effect{Farewell}
	case EventKey:
		// the session keeps its key; the new one is still removed from the chat
		return Active, []Effect{DeleteMessage, WelcomeBack}
	case EventKeyAccepted, EventKeyRejected:
		return Active, nil
	case EventText:
		return Active, []Effect{Chat}
	case EventDraw:
		return Active, []Effect{Draw}
	case EventVoice:
		return Active, []Effect{Transcribe}
	case EventDocument:
		return Active, []Effect{AnswerDocument}
	case EventForget:
		return Unauthenticated, []Effect{ForgetKey}
	case EventFailure:
		return Active, []Effect{ReportError}
	default:
		return Active, nil
	}
}
