package notify

import (
	"bytes"
	"context"
	"fmt"

	"github.com/go-telegram/bot"
	botmodels "github.com/go-telegram/bot/models"
)

// Telegram delivers recovery notifications through a bot chat.
type Telegram struct {
	bot *bot.Bot
}

func NewTelegram(token string) (*Telegram, error) {
	b, err := bot.New(token)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	return &Telegram{bot: b}, nil
}

// SendMessage sends a markdown text message, with an optional inline URL
// button when linkURL is non-empty.
func (t *Telegram) SendMessage(ctx context.Context, chatID int64, text, linkURL string) error {
	params := &bot.SendMessageParams{
		ChatID:    chatID,
		Text:      text,
		ParseMode: botmodels.ParseModeMarkdown,
	}
	if kb := linkKeyboard(linkURL); kb != nil {
		params.ReplyMarkup = kb
	}

	if _, err := t.bot.SendMessage(ctx, params); err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	return nil
}

// SendPhoto uploads photo bytes as an image with a markdown caption. The
// filename matters: it is what makes Telegram treat the upload as a photo.
func (t *Telegram) SendPhoto(ctx context.Context, chatID int64, photo []byte, filename, caption, linkURL string) error {
	params := &bot.SendPhotoParams{
		ChatID: chatID,
		Photo: &botmodels.InputFileUpload{
			Filename: filename,
			Data:     bytes.NewReader(photo),
		},
		Caption:   caption,
		ParseMode: botmodels.ParseModeMarkdown,
	}
	if kb := linkKeyboard(linkURL); kb != nil {
		params.ReplyMarkup = kb
	}

	if _, err := t.bot.SendPhoto(ctx, params); err != nil {
		return fmt.Errorf("send photo: %w", err)
	}
	return nil
}

func linkKeyboard(linkURL string) *botmodels.InlineKeyboardMarkup {
	if linkURL == "" {
		return nil
	}
	return &botmodels.InlineKeyboardMarkup{
		InlineKeyboard: [][]botmodels.InlineKeyboardButton{
			{{Text: "View Profile", URL: linkURL}},
		},
	}
}
