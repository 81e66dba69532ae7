package bot

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/centromex/rental-bot/internal/models"
	"github.com/centromex/rental-bot/internal/notify"
	"github.com/centromex/rental-bot/internal/table"
)

var quiet = log.New(io.Discard, "", 0)

type fakeAPI struct {
	mu       sync.Mutex
	updates  chan tgbotapi.Update
	sent     []tgbotapi.MessageConfig
	sendErr  error
	chatErrs map[int64]error
	stopped  bool
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{updates: make(chan tgbotapi.Update, 10), chatErrs: map[int64]error{}}
}

func (f *fakeAPI) GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel {
	return f.updates
}

func (f *fakeAPI) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return tgbotapi.Message{}, f.sendErr
	}
	msg, ok := c.(tgbotapi.MessageConfig)
	if !ok {
		return tgbotapi.Message{}, errors.New("unexpected chattable")
	}
	f.sent = append(f.sent, msg)
	return tgbotapi.Message{MessageID: 9000 + len(f.sent)}, nil
}

func (f *fakeAPI) GetChat(config tgbotapi.ChatInfoConfig) (tgbotapi.Chat, error) {
	if err := f.chatErrs[config.ChatID]; err != nil {
		return tgbotapi.Chat{}, err
	}
	return tgbotapi.Chat{ID: config.ChatID}, nil
}

func (f *fakeAPI) StopReceivingUpdates() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = true
}

func (f *fakeAPI) messages() []tgbotapi.MessageConfig {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]tgbotapi.MessageConfig(nil), f.sent...)
}

type memRecords struct {
	mu      sync.Mutex
	records []models.Record
	err     error
}

func (m *memRecords) Append(ctx context.Context, rec models.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	for _, existing := range m.records {
		if existing.ID == rec.ID {
			return fmt.Errorf("%w: %d", table.ErrDuplicateID, rec.ID.Int64)
		}
	}
	m.records = append(m.records, rec)
	return nil
}

type origin struct {
	chatID    int64
	messageID int64
}

type memOrigins struct {
	mu    sync.Mutex
	saved []origin
	chats []int64
}

func (m *memOrigins) SaveOrigin(ctx context.Context, chatID int64, chatTitle string, messageID int64, requester string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saved = append(m.saved, origin{chatID, messageID})
	return nil
}

// ListChats returns the configured chats, or the chats of saved origins with
// the most recently seen first.
func (m *memOrigins) ListChats(ctx context.Context) ([]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.chats != nil {
		return m.chats, nil
	}
	var chats []int64
	seen := map[int64]bool{}
	for i := len(m.saved) - 1; i >= 0; i-- {
		if id := m.saved[i].chatID; !seen[id] {
			seen[id] = true
			chats = append(chats, id)
		}
	}
	return chats, nil
}

func (m *memOrigins) HasOrigin(ctx context.Context, chatID, messageID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.saved {
		if o.chatID == chatID && o.messageID == messageID {
			return true, nil
		}
	}
	return false, nil
}

var botUser = tgbotapi.User{ID: 1, IsBot: true, UserName: "rental_bot"}

func textMessage(id int, chatID int64, text string) *tgbotapi.Message {
	return &tgbotapi.Message{
		MessageID: id,
		From:      &tgbotapi.User{ID: 42, UserName: "alice"},
		Chat:      &tgbotapi.Chat{ID: chatID, Title: "Rentals"},
		Text:      text,
	}
}

func commandMessage(chatID int64, command string) *tgbotapi.Message {
	msg := textMessage(1, chatID, "/"+command)
	msg.Entities = []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: len(command) + 1}}
	return msg
}

func newTestBot(api *fakeAPI, records *memRecords, origins *memOrigins) *Bot {
	return NewWithAPI(api, botUser, records, origins, quiet)
}

func TestSubmissionIsRecorded(t *testing.T) {
	api, records, origins := newFakeAPI(), &memRecords{}, &memOrigins{}
	b := newTestBot(api, records, origins)

	b.handleMessage(context.Background(), textMessage(111, -100, "#rent Alice,Drill,rent,555-1234,need by Friday"))

	require.Len(t, records.records, 1)
	assert.Equal(t, models.NewRecord(111, "Alice", "Drill", models.ModeRent, "555-1234", "need by Friday"), records.records[0])
	assert.Equal(t, []origin{{-100, 111}}, origins.saved)

	sent := api.messages()
	require.Len(t, sent, 1)
	assert.Equal(t, int64(-100), sent[0].ChatID)
	assert.Equal(t, "Message recorded successfully!", sent[0].Text)
}

func TestMalformedSubmissionIsRejected(t *testing.T) {
	api, records, origins := newFakeAPI(), &memRecords{}, &memOrigins{}
	b := newTestBot(api, records, origins)

	b.handleMessage(context.Background(), textMessage(5, -100, "#rent Bob,Ladder"))

	assert.Empty(t, records.records)
	assert.Empty(t, origins.saved)
	sent := api.messages()
	require.Len(t, sent, 1)
	assert.Contains(t, sent[0].Text, "Invalid format!")
}

func TestStoreFailureGetsGenericReply(t *testing.T) {
	api := newFakeAPI()
	origins := &memOrigins{}
	records := &memRecords{err: errors.New("disk full")}
	b := newTestBot(api, records, origins)

	b.handleMessage(context.Background(), textMessage(5, -100, "#buy Bob,Ladder,buy,555-0000,urgent"))

	sent := api.messages()
	require.Len(t, sent, 1)
	assert.Equal(t, "Error processing message. Please try again.", sent[0].Text)
	assert.Empty(t, origins.saved, "a submission that was not stored has no origin")
}

func TestDuplicateMessageIDKeepsFirstChatAsOrigin(t *testing.T) {
	api, records, origins := newFakeAPI(), &memRecords{}, &memOrigins{}
	b := newTestBot(api, records, origins)
	ctx := context.Background()

	b.handleMessage(ctx, textMessage(100, -1, "#rent Alice,Drill,rent,555-1234,need by Friday"))
	b.handleMessage(ctx, textMessage(100, -2, "#buy Bob,Ladder,buy,555-0000,urgent"))

	require.Len(t, records.records, 1)
	assert.Equal(t, "Alice", records.records[0].Name)
	assert.Equal(t, []origin{{-1, 100}}, origins.saved)

	sent := api.messages()
	require.Len(t, sent, 2)
	assert.Equal(t, int64(-2), sent[1].ChatID)
	assert.Contains(t, sent[1].Text, "send it again")

	target, err := b.Resolver(origins).Resolve(ctx, 100)
	require.NoError(t, err)
	assert.Equal(t, notify.Target{ChatID: -1, MessageID: 100}, target)
}

func TestIgnoresOwnAndOrdinaryMessages(t *testing.T) {
	api, records := newFakeAPI(), &memRecords{}
	b := newTestBot(api, records, &memOrigins{})

	own := textMessage(7, -100, "#rent a,b,rent,c,d")
	own.From = &botUser
	b.handleMessage(context.Background(), own)
	b.handleMessage(context.Background(), textMessage(8, -100, "anyone have a drill?"))

	assert.Empty(t, records.records)
	assert.Empty(t, api.messages())
}

func TestCommands(t *testing.T) {
	api := newFakeAPI()
	b := newTestBot(api, &memRecords{}, &memOrigins{})

	b.handleMessage(context.Background(), commandMessage(3, "start"))
	b.handleMessage(context.Background(), commandMessage(3, "help"))
	b.handleMessage(context.Background(), commandMessage(3, "claim"))

	sent := api.messages()
	require.Len(t, sent, 3)
	assert.Contains(t, sent[0].Text, "Welcome")
	assert.Contains(t, sent[1].Text, "#rent name,product name,rent or buy,phone no,query")
	assert.Contains(t, sent[2].Text, "Unknown command")
}

func TestReplyThreadsToTarget(t *testing.T) {
	api := newFakeAPI()
	b := newTestBot(api, &memRecords{}, &memOrigins{})

	require.NoError(t, b.Reply(context.Background(), notify.Target{ChatID: -100, MessageID: 111}, "Your order is Issued!"))

	sent := api.messages()
	require.Len(t, sent, 1)
	assert.Equal(t, int64(-100), sent[0].ChatID)
	assert.Equal(t, 111, sent[0].ReplyToMessageID)
	assert.Equal(t, "Your order is Issued!", sent[0].Text)

	api.sendErr = &tgbotapi.Error{Code: 403, Message: "Forbidden: bot was kicked"}
	assert.Error(t, b.Reply(context.Background(), notify.Target{ChatID: -100, MessageID: 111}, "x"))
}

func TestRunStopsWithContext(t *testing.T) {
	api, records := newFakeAPI(), &memRecords{}
	b := newTestBot(api, records, &memOrigins{})
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- b.Run(ctx) }()

	api.updates <- tgbotapi.Update{Message: textMessage(111, -100, "#rent Alice,Drill,rent,555-1234,x")}
	api.updates <- tgbotapi.Update{}
	assert.Eventually(t, func() bool { return len(api.messages()) == 1 }, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	api.mu.Lock()
	assert.True(t, api.stopped)
	api.mu.Unlock()
}
