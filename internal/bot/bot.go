// Package bot connects the rental table to Telegram. It records #rent and
// #buy submissions and delivers status replies for the reconciliation loop.
package bot

import (
	"context"
	"fmt"
	"log"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/centromex/rental-bot/internal/intake"
	"github.com/centromex/rental-bot/internal/metrics"
	"github.com/centromex/rental-bot/internal/models"
	"github.com/centromex/rental-bot/internal/notify"
)

const usage = "Submit a request as:\n" +
	"#rent name,product name,rent or buy,phone no,query\n\n" +
	"Example:\n" +
	"#rent Alice,Drill,rent,555-1234,need by Friday\n\n" +
	"You will get a reply here when your order is issued, cancelled or delivered."

// API is the subset of *tgbotapi.BotAPI the bot uses.
type API interface {
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	GetChat(config tgbotapi.ChatInfoConfig) (tgbotapi.Chat, error)
	StopReceivingUpdates()
}

// Records stores accepted submissions.
type Records interface {
	Append(ctx context.Context, rec models.Record) error
}

// Origins remembers which chat a submission was posted in.
type Origins interface {
	SaveOrigin(ctx context.Context, chatID int64, chatTitle string, messageID int64, requester string) error
}

// Logger is satisfied by *log.Logger.
type Logger interface {
	Printf(format string, args ...any)
}

// Config holds the Telegram connection settings.
type Config struct {
	Token string
	Debug bool
}

// Bot handles Telegram updates and sends replies on behalf of the notifier.
type Bot struct {
	api     API
	self    tgbotapi.User
	records Records
	origins Origins
	logger  Logger
}

// New connects to Telegram with the configured token.
func New(cfg Config, records Records, origins Origins) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}
	api.Debug = cfg.Debug

	log.Printf("[bot] authorized on account %s", api.Self.UserName)

	return NewWithAPI(api, api.Self, records, origins, log.Default()), nil
}

// NewWithAPI builds a bot around an existing API client.
func NewWithAPI(api API, self tgbotapi.User, records Records, origins Origins, logger Logger) *Bot {
	if logger == nil {
		logger = log.Default()
	}
	return &Bot{
		api:     api,
		self:    self,
		records: records,
		origins: origins,
		logger:  logger,
	}
}

// Run handles updates until ctx is done.
func (b *Bot) Run(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.api.GetUpdatesChan(u)
	defer b.api.StopReceivingUpdates()

	for {
		select {
		case <-ctx.Done():
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			if update.Message == nil {
				continue
			}
			b.handleMessage(ctx, update.Message)
		}
	}
}

func (b *Bot) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	if msg.From != nil && msg.From.ID == b.self.ID {
		return
	}

	if msg.IsCommand() {
		b.handleCommand(msg)
		return
	}

	if intake.IsSubmission(msg.Text) {
		b.handleSubmission(ctx, msg)
	}
}

func (b *Bot) handleCommand(msg *tgbotapi.Message) {
	switch msg.Command() {
	case "start":
		b.sendMessage(msg.Chat.ID, "Welcome to the rental request bot!\n\n"+usage)

	case "help":
		b.sendMessage(msg.Chat.ID, usage)

	default:
		b.sendMessage(msg.Chat.ID, "Unknown command. Use /help to see how to submit a request.")
	}
}

func (b *Bot) handleSubmission(ctx context.Context, msg *tgbotapi.Message) {
	sub, err := intake.Parse(msg.Text)
	if err != nil {
		metrics.Submissions.WithLabelValues("rejected").Inc()
		b.logger.Printf("[bot] rejected submission %d from %s: %v", msg.MessageID, sender(msg), err)
		b.sendMessage(msg.Chat.ID, intake.ReplyFor(err))
		return
	}

	id := int64(msg.MessageID)
	if err := b.records.Append(ctx, sub.Record(id)); err != nil {
		metrics.Submissions.WithLabelValues("failed").Inc()
		b.logger.Printf("[bot] error processing message %d: %v", id, err)
		b.sendMessage(msg.Chat.ID, intake.ReplyFor(err))
		return
	}

	// Only the chat whose submission owns the row may receive its status replies.
	if err := b.origins.SaveOrigin(ctx, msg.Chat.ID, msg.Chat.Title, id, sender(msg)); err != nil {
		b.logger.Printf("[bot] could not save origin of message %d: %v", id, err)
	}

	metrics.Submissions.WithLabelValues("accepted").Inc()
	b.logger.Printf("[bot] processed message %d from %s", id, sender(msg))
	b.sendMessage(msg.Chat.ID, intake.ReplyFor(nil))
}

// Reply sends text as a reply to the target message.
func (b *Bot) Reply(ctx context.Context, target notify.Target, text string) error {
	msg := tgbotapi.NewMessage(target.ChatID, text)
	msg.ReplyToMessageID = target.MessageID
	_, err := b.api.Send(msg)
	return err
}

// Resolver returns a notification resolver that scans the chats in dir.
func (b *Bot) Resolver(dir ChatDirectory) *Resolver {
	return NewResolver(b.api, dir, b.logger)
}

func (b *Bot) sendMessage(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	_, err := b.api.Send(msg)
	if err != nil {
		b.logger.Printf("[bot] error sending message: %v", err)
	}
}

func sender(msg *tgbotapi.Message) string {
	if msg.From == nil {
		return "unknown"
	}
	if msg.From.UserName != "" {
		return msg.From.UserName
	}
	name := msg.From.FirstName
	if msg.From.LastName != "" {
		name += " " + msg.From.LastName
	}
	return name
}
