package audit

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
)

// Sender is the part of the Telegram bot API used to deliver reports.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// TelegramNotifier sends reports as documents to a chat.
type TelegramNotifier struct {
	bot    Sender
	chatID int64
}

func NewTelegramNotifier(bot Sender, chatID int64) *TelegramNotifier {
	return &TelegramNotifier{bot: bot, chatID: chatID}
}

func (n *TelegramNotifier) SendDocument(_ context.Context, filename string, data io.Reader, caption string) error {
	doc := tgbotapi.NewDocument(n.chatID, tgbotapi.FileReader{Name: filename, Reader: data})
	doc.Caption = caption
	if _, err := n.bot.Send(doc); err != nil {
		return fmt.Errorf("telegram send to %d: %w", n.chatID, err)
	}
	return nil
}

// DirNotifier stores reports in a directory.
type DirNotifier struct {
	dir string
}

func NewDirNotifier(dir string) *DirNotifier {
	return &DirNotifier{dir: dir}
}

func (n *DirNotifier) SendDocument(_ context.Context, filename string, data io.Reader, _ string) error {
	if err := os.MkdirAll(n.dir, 0o755); err != nil {
		return fmt.Errorf("create audit directory: %w", err)
	}
	f, err := os.Create(filepath.Join(n.dir, filepath.Base(filename)))
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, data); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// ZerologLogger adapts zerolog to the audit Logger interface. Fields are
// key/value pairs.
type ZerologLogger struct {
	logger zerolog.Logger
}

func NewZerologLogger(logger zerolog.Logger) *ZerologLogger {
	return &ZerologLogger{logger: logger.With().Str("component", "audit").Logger()}
}

func (l *ZerologLogger) Info(msg string, fields ...any)  { l.logger.Info().Fields(fields).Msg(msg) }
func (l *ZerologLogger) Error(msg string, fields ...any) { l.logger.Error().Fields(fields).Msg(msg) }
func (l *ZerologLogger) Debug(msg string, fields ...any) { l.logger.Debug().Fields(fields).Msg(msg) }
