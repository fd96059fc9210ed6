package telegram

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"telegrative/internal/formatter"
	"telegrative/internal/logger"
	"telegrative/internal/metrics"
	"telegrative/internal/openaiutil"
	"telegrative/internal/session"
)

const (
	// KeyPrefix marks a text message as an OpenAI API key.
	KeyPrefix = "sk-"

	drawToken       = "draw"
	defaultQuestion = "Summarize this file"
	callbackYes     = "yes"
	callbackNo      = "no"

	greetingAnimation = "https://i.giphy.com/media/v1.Y2lkPTc5MGI3NjExZnpibnB3OWd2OWtvdm13cWl1NGFhaHQ3eDJvZnN1MHJ1a3I4NmFldyZlcD12MV9pbnRlcm5hbF9naWZfYnlfaWQmY3Q9Zw/JFz7YZA0vhiGlAYCSn/giphy.gif"
	startAnimation    = "https://i.giphy.com/media/v1.Y2lkPTc5MGI3NjExcHE2dzFqeTJ1ZmlybDJzcmQ2dWdkaHk0NXp6ejI5M2lodTNveGh1biZlcD12MV9pbnRlcm5hbF9naWZfYnlfaWQmY3Q9Zw/06yiZTyUNXmdSFlutV/giphy.gif"
	farewellAnimation = "https://i.giphy.com/media/v1.Y2lkPTc5MGI3NjExNmc5dWQ2dTc4dTNvMnpyNGdjaHFxbXl2dHQwamlsaGJ0bGxtcHplOCZlcD12MV9pbnRlcm5hbF9naWZfYnlfaWQmY3Q9Zw/9kzGqfk7xgN0AZw3jo/giphy.gif"
)

const (
	continueQuestion  = "Would you like to continue?"
	letsStartMsg      = "OK. Let's Start"
	writeKeyMsg       = "Write your API Key"
	farewellMsg       = "OK. See you later!"
	keyRejectedMsg    = "This API Key did not work. Please check it and write it again."
	keyReminderMsg    = "Please write your OpenAI API Key first. It starts with sk-"
	keyDeletedMsg     = "Your API Key deleted"
	noKeyMsg          = "There is no API Key to delete."
	unsupportedMsg    = "Please send the file in PDF or TXT format"
	unreadableFileMsg = "I could not read this file. Please send a valid PDF or TXT file."
	unknownCommandMsg = "Unknown command"
	timeoutMsg        = "The model took too long to answer. Please try again later."
	genericErrorMsg   = "An error occurred please try again later"
)

// API is the part of *tgbotapi.BotAPI the bot uses.
type API interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetFileDirectURL(fileID string) (string, error)
}

// KeyValidator turns an API key into a session.
type KeyValidator interface {
	ValidateAndCreate(ctx context.Context, apiKey string) (*session.Session, error)
}

// Options tunes the bot. Zero values are usable.
type Options struct {
	OnboardingPause time.Duration
	ImageSize       string
	HTTPClient      *http.Client
	TempDir         string // "" uses os.TempDir
}

// Bot routes Telegram updates through the per-user state machine.
type Bot struct {
	api      API
	sessions *session.Store
	keys     KeyValidator
	opts     Options
}

// New creates a Bot. Sessions live in store and are created by keys.
func New(api API, keys KeyValidator, store *session.Store, opts Options) *Bot {
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 2 * time.Minute}
	}
	return &Bot{api: api, sessions: store, keys: keys, opts: opts}
}

// inbound is one update reduced to what the effects need. The acting user
// always comes from the update itself.
type inbound struct {
	userID int64
	chatID int64
	name   string
	msg    *tgbotapi.Message
	text   string

	sess    *session.Session
	pending *session.Session
}

// HandleUpdate processes a single update. It never panics and reports every
// failure to the user.
func (b *Bot) HandleUpdate(ctx context.Context, u tgbotapi.Update) {
	in, ev, kind, ok := b.classify(ctx, u)
	if !ok {
		return
	}
	log := logger.FromContext(ctx).With(zap.Int64("user_id", in.userID), zap.String("event", ev.String()))
	ctx = logger.ContextWithLogger(ctx, log)
	log.Info("handle update", zap.String("kind", kind))

	status := "ok"
	defer func() {
		if r := recover(); r != nil {
			log.Error("handler panic", zap.Any("panic", r), zap.Stack("stack"))
			status = "panic"
			b.handleFailure(ctx, in, fmt.Errorf("panic: %v", r))
		}
		metrics.UpdatesTotal.WithLabelValues(kind, status).Inc()
	}()

	if err := b.dispatch(ctx, in, ev); err != nil {
		status = "error"
		b.handleFailure(ctx, in, err)
	}
}

// classify decides the event of u. Updates the bot does not handle report
// ok=false.
func (b *Bot) classify(ctx context.Context, u tgbotapi.Update) (in *inbound, ev session.Event, kind string, ok bool) {
	if q := u.CallbackQuery; q != nil {
		if q.From == nil {
			return nil, 0, "", false
		}
		b.request(ctx, tgbotapi.NewCallback(q.ID, ""))
		in = &inbound{userID: q.From.ID, chatID: q.From.ID, name: fullName(q.From)}
		if q.Message != nil && q.Message.Chat != nil {
			in.chatID = q.Message.Chat.ID
		}
		if q.Data == callbackYes {
			return in, session.EventContinue, "callback", true
		}
		return in, session.EventDecline, "callback", true
	}

	m := u.Message
	if m == nil || m.From == nil || m.Chat == nil {
		return nil, 0, "", false
	}
	in = &inbound{userID: m.From.ID, chatID: m.Chat.ID, name: fullName(m.From), msg: m, text: m.Text}

	switch {
	case m.IsCommand():
		switch m.Command() {
		case "start":
			return in, session.EventStart, "command", true
		case "off":
			return in, session.EventForget, "command", true
		default:
			logger.FromContext(ctx).Info("unknown command", zap.String("command", m.Command()), zap.Int64("user_id", in.userID))
			b.sendPlain(ctx, in.chatID, unknownCommandMsg)
			return nil, 0, "", false
		}
	case m.Voice != nil:
		return in, session.EventVoice, "voice", true
	case m.Document != nil:
		in.text = m.Caption
		return in, session.EventDocument, "document", true
	case m.Text != "":
		return classifyText(in)
	default:
		return nil, 0, "", false
	}
}

// classifyText checks for a key first so that a key is never sent to a
// model, whatever else the message looks like.
func classifyText(in *inbound) (*inbound, session.Event, string, bool) {
	text := in.msg.Text
	if IsKey(text) {
		in.text = strings.TrimSpace(text)
		return in, session.EventKey, "key", true
	}
	if r := in.msg.ReplyToMessage; r != nil && r.Text != "" {
		in.text = formatter.ReplyPrompt(r.Text, text)
		return in, session.EventText, "text", true
	}
	if strings.Contains(strings.ToLower(text), drawToken) {
		return in, session.EventDraw, "draw", true
	}
	return in, session.EventText, "text", true
}

// IsKey reports whether text is an API key message.
func IsKey(text string) bool {
	return strings.HasPrefix(strings.TrimSpace(text), KeyPrefix)
}

// dispatch runs ev through the state machine for the user of in, stores the
// new state and executes the resulting effects in order.
func (b *Bot) dispatch(ctx context.Context, in *inbound, ev session.Event) error {
	state, sess := b.sessions.Get(in.userID)
	in.sess = sess

	next, effects := session.Transition(state, ev)
	switch {
	case next == session.Active && state != session.Active:
		if in.pending == nil {
			return errors.New("activation without a validated session")
		}
		b.sessions.Activate(in.userID, in.pending)
		in.sess = in.pending
	case next != state:
		b.sessions.SetState(in.userID, next)
	}

	if next != state {
		logger.FromContext(ctx).Debug("state changed",
			zap.Stringer("from", state),
			zap.Stringer("to", next),
		)
	}

	for _, eff := range effects {
		if err := b.run(ctx, in, eff); err != nil {
			return fmt.Errorf("%s: %w", eff, err)
		}
	}
	return nil
}

// handleFailure restarts onboarding for users without a session and reports
// the error to everyone else.
func (b *Bot) handleFailure(ctx context.Context, in *inbound, err error) {
	log := logger.FromContext(ctx)
	log.Error("update failed", zap.Error(err))

	if state, _ := b.sessions.Get(in.userID); state == session.Active && openaiutil.IsTimeout(err) {
		b.sendPlain(ctx, in.chatID, timeoutMsg)
		return
	}
	if ferr := b.dispatch(ctx, in, session.EventFailure); ferr != nil {
		log.Error("failure handling failed", zap.Error(ferr))
	}
}

func fullName(u *tgbotapi.User) string {
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}
