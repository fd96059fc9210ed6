package telegram

import (
	"context"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"telegrative/internal/formatter"
	"telegrative/internal/logger"
)

const (
	markdownMode  = "Markdown"
	maxCaptionLen = 1024
)

// sendMarkdown sends text as Markdown, split to fit Telegram limits. A part
// Telegram refuses to parse is retried once as plain text.
func (b *Bot) sendMarkdown(ctx context.Context, chatID int64, text string) {
	for _, part := range formatter.SplitMessage(text, formatter.MaxMessageLen) {
		msg := tgbotapi.NewMessage(chatID, part)
		msg.ParseMode = markdownMode
		if _, err := b.api.Send(msg); err != nil {
			logger.FromContext(ctx).Warn("telegram markdown send failed", zap.Error(err))
			msg.ParseMode = ""
			if _, err := b.api.Send(msg); err != nil {
				logger.FromContext(ctx).Error("telegram send retry failed", zap.Error(err))
			}
		}
	}
}

// sendPlain sends text without formatting.
func (b *Bot) sendPlain(ctx context.Context, chatID int64, text string) {
	for _, part := range formatter.SplitMessage(text, formatter.MaxMessageLen) {
		b.deliver(ctx, tgbotapi.NewMessage(chatID, part))
	}
}

func (b *Bot) sendAnimation(ctx context.Context, chatID int64, url string) {
	b.deliver(ctx, tgbotapi.NewAnimation(chatID, tgbotapi.FileURL(url)))
}

func (b *Bot) sendPhoto(ctx context.Context, chatID int64, url, caption string) {
	photo := tgbotapi.NewPhoto(chatID, tgbotapi.FileURL(url))
	if r := []rune(caption); len(r) > maxCaptionLen {
		caption = string(r[:maxCaptionLen])
	}
	photo.Caption = caption
	b.deliver(ctx, photo)
}

func (b *Bot) sendQuestion(ctx context.Context, chatID int64) {
	msg := tgbotapi.NewMessage(chatID, continueQuestion)
	msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData("Yes", callbackYes)),
		tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData("No", callbackNo)),
	)
	b.deliver(ctx, msg)
}

// deliver sends c with one retry, as every outbound message does.
func (b *Bot) deliver(ctx context.Context, c tgbotapi.Chattable) {
	if _, err := b.api.Send(c); err != nil {
		logger.FromContext(ctx).Warn("telegram send failed", zap.Error(err))
		if _, err := b.api.Send(c); err != nil {
			logger.FromContext(ctx).Error("telegram send retry failed", zap.Error(err))
		}
	}
}

// request calls a Bot API method whose result is not a Message.
func (b *Bot) request(ctx context.Context, c tgbotapi.Chattable) {
	if _, err := b.api.Request(c); err != nil {
		logger.FromContext(ctx).Warn("telegram request failed", zap.Error(err))
	}
}

// pause waits between onboarding messages unless ctx ends first.
func (b *Bot) pause(ctx context.Context) {
	if b.opts.OnboardingPause <= 0 {
		return
	}
	t := time.NewTimer(b.opts.OnboardingPause)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
