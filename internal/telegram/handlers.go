package telegram

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"telegrative/internal/formatter"
	"telegrative/internal/logger"
	"telegrative/internal/rag"
	"telegrative/internal/session"
)

var errNoSession = errors.New("no session for user")

// run executes a single effect for in.
func (b *Bot) run(ctx context.Context, in *inbound, eff session.Effect) error {
	switch eff {
	case session.Greet:
		b.sendMarkdown(ctx, in.chatID, formatter.Greeting(in.name))
		b.sendAnimation(ctx, in.chatID, greetingAnimation)
		b.pause(ctx)
	case session.Introduce:
		b.sendMarkdown(ctx, in.chatID, formatter.Skills)
		b.pause(ctx)
		b.sendQuestion(ctx, in.chatID)
	case session.WelcomeBack:
		b.sendMarkdown(ctx, in.chatID, formatter.Hello(in.name))
	case session.PromptKey:
		b.sendPlain(ctx, in.chatID, letsStartMsg)
		b.sendAnimation(ctx, in.chatID, startAnimation)
		b.sendPlain(ctx, in.chatID, writeKeyMsg)
	case session.Farewell:
		b.sendPlain(ctx, in.chatID, farewellMsg)
		b.sendAnimation(ctx, in.chatID, farewellAnimation)
	case session.DeleteMessage:
		if in.msg != nil {
			b.request(ctx, tgbotapi.NewDeleteMessage(in.chatID, in.msg.MessageID))
		}
	case session.ValidateKey:
		return b.validateKey(ctx, in)
	case session.ConfirmKey:
		b.sendPlain(ctx, in.chatID, formatter.KeyAccepted(in.sess.APIKey))
		b.sendMarkdown(ctx, in.chatID, formatter.Hello(in.name))
	case session.RejectKey:
		b.sendPlain(ctx, in.chatID, keyRejectedMsg)
	case session.RemindKey:
		b.sendPlain(ctx, in.chatID, keyReminderMsg)
	case session.Chat:
		return b.chat(ctx, in)
	case session.Draw:
		return b.draw(ctx, in)
	case session.Transcribe:
		return b.voice(ctx, in)
	case session.AnswerDocument:
		return b.document(ctx, in)
	case session.ForgetKey:
		b.sendPlain(ctx, in.chatID, keyDeletedMsg)
	case session.NoKeyStored:
		b.sendPlain(ctx, in.chatID, noKeyMsg)
	case session.ReportError:
		b.sendPlain(ctx, in.chatID, genericErrorMsg)
	default:
		return fmt.Errorf("unknown effect %d", eff)
	}
	return nil
}

func (b *Bot) validateKey(ctx context.Context, in *inbound) error {
	log := logger.FromContext(ctx)
	sess, err := b.keys.ValidateAndCreate(ctx, in.text)
	if err != nil {
		log.Warn("api key rejected", zap.String("key", formatter.MaskKey(in.text)), zap.Error(err))
		return b.dispatch(ctx, in, session.EventKeyRejected)
	}
	log.Info("api key accepted", zap.String("key", formatter.MaskKey(in.text)))
	in.pending = sess
	return b.dispatch(ctx, in, session.EventKeyAccepted)
}

func (b *Bot) chat(ctx context.Context, in *inbound) error {
	if in.sess == nil {
		return errNoSession
	}
	answer, err := in.sess.Model.Chat(ctx, in.text)
	if err != nil {
		return err
	}
	b.sendMarkdown(ctx, in.chatID, answer)
	return nil
}

func (b *Bot) draw(ctx context.Context, in *inbound) error {
	if in.sess == nil {
		return errNoSession
	}
	url, revised, err := in.sess.Model.GenerateImage(ctx, in.text, b.opts.ImageSize)
	if err != nil {
		return err
	}
	b.sendPhoto(ctx, in.chatID, url, revised)
	return nil
}

// voice transcribes a voice message and chats on the transcript. The
// downloaded audio is removed whatever happens.
func (b *Bot) voice(ctx context.Context, in *inbound) error {
	if in.sess == nil {
		return errNoSession
	}
	path, err := b.fetchTemp(ctx, in.msg.Voice.FileID, "voice-*.ogg")
	if path != "" {
		defer removeTemp(ctx, path)
	}
	if err != nil {
		return fmt.Errorf("download voice: %w", err)
	}

	transcript, err := in.sess.Model.Transcribe(ctx, path)
	if err != nil {
		return err
	}
	logger.FromContext(ctx).Debug("voice transcribed", zap.Int("chars", len(transcript)))

	answer, err := in.sess.Model.Chat(ctx, transcript)
	if err != nil {
		return err
	}
	b.sendMarkdown(ctx, in.chatID, answer)
	return nil
}

// document answers the caption, or a summary request, from an uploaded file.
func (b *Bot) document(ctx context.Context, in *inbound) error {
	if in.sess == nil {
		return errNoSession
	}
	doc := in.msg.Document
	question := strings.TrimSpace(in.text)
	if question == "" {
		question = defaultQuestion
	}

	kind := KindOf(doc.MimeType)
	logger.FromContext(ctx).Info("document received",
		zap.String("kind", kind.String()),
		zap.String("mime_type", doc.MimeType),
		zap.Int("size", doc.FileSize),
	)

	var (
		answer string
		err    error
	)
	switch kind {
	case PlainText:
		var sb strings.Builder
		if err := b.fetch(ctx, doc.FileID, &sb); err != nil {
			return fmt.Errorf("download document: %w", err)
		}
		answer, err = in.sess.Docs.AnswerFromText(ctx, sb.String(), question)
	case PDF:
		path, ferr := b.fetchTemp(ctx, doc.FileID, "doc-*.pdf")
		if path != "" {
			defer removeTemp(ctx, path)
		}
		if ferr != nil {
			return fmt.Errorf("download document: %w", ferr)
		}
		answer, err = in.sess.Docs.AnswerFromFile(ctx, path, question)
	case Unsupported:
		b.sendPlain(ctx, in.chatID, unsupportedMsg)
		return nil
	}

	if errors.Is(err, rag.ErrDocumentLoad) {
		logger.FromContext(ctx).Warn("document unreadable", zap.Error(err))
		b.sendPlain(ctx, in.chatID, unreadableFileMsg)
		return nil
	}
	if err != nil {
		return err
	}
	b.sendPlain(ctx, in.chatID, answer)
	return nil
}

func removeTemp(ctx context.Context, path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.FromContext(ctx).Warn("remove temp file", zap.String("path", path), zap.Error(err))
	}
}
