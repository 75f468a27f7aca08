package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/user/burrow/internal/gateway"
	"github.com/user/burrow/internal/types"
)

const maxTelegramMessage = 4096

// Conversation is the part of the coordinator the adapter drives.
type Conversation interface {
	SubmitUser(content string, source types.Origin, onComplete func(string)) (*gateway.Interaction, error)
	Len() int
	Busy() bool
	ClearConversation(ctx context.Context) error
}

// Agents reports on background agents.
type Agents interface {
	Describe() string
	InFlight() int64
}

type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Adapter bridges Telegram to the main conversation.
type Adapter struct {
	bot     *tgbotapi.BotAPI
	out     sender
	conv    Conversation
	agents  Agents
	allowed []int64
}

// New creates a Telegram adapter. An empty allowed list accepts every user.
func New(token string, conv Conversation, agents Agents, allowed []int64) (*Adapter, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create bot: %w", err)
	}
	return &Adapter{
		bot:     bot,
		out:     bot,
		conv:    conv,
		agents:  agents,
		allowed: allowed,
	}, nil
}

// Start begins long-polling for Telegram updates.
func (a *Adapter) Start(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30

	updates := a.bot.GetUpdatesChan(u)

	for {
		select {
		case update := <-updates:
			if update.Message == nil || update.Message.Text == "" {
				continue
			}
			a.handleMessage(ctx, update.Message)
		case <-ctx.Done():
			a.bot.StopReceivingUpdates()
			return
		}
	}
}

// Deliver sends a reply to the chat named by origin ("telegram:<chat>").
func (a *Adapter) Deliver(_ context.Context, origin types.Origin, message string) error {
	chatID, err := ChatID(origin)
	if err != nil {
		return err
	}
	a.sendResponse(chatID, message)
	return nil
}

func (a *Adapter) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	if msg.From == nil || !a.permitted(msg.From.ID) {
		slog.Warn("telegram message from unknown user", "chat", msg.Chat.ID)
		return
	}
	if msg.IsCommand() {
		a.handleCommand(ctx, msg)
		return
	}

	chatID := msg.Chat.ID
	_, err := a.conv.SubmitUser(msg.Text, Origin(chatID), func(response string) {
		a.sendResponse(chatID, response)
	})
	if err != nil {
		slog.Error("submit telegram message", "chat", chatID, "error", err)
		a.sendResponse(chatID, "Sorry, I could not take your message right now.")
		return
	}
	if n := a.conv.Len(); n > 0 && a.conv.Busy() {
		a.sendResponse(chatID, fmt.Sprintf("Queued behind %d message(s).", n))
	}
}

func (a *Adapter) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	chatID := msg.Chat.ID

	switch msg.Command() {
	case "start":
		a.sendResponse(chatID, "Hello! I'm Burrow, your AI assistant. Send me a message to get started.")

	case "status":
		a.sendResponse(chatID, fmt.Sprintf("Queued messages: %d\nAgents running: %d", a.conv.Len(), a.agents.InFlight()))

	case "agents":
		list := a.agents.Describe()
		if list == "" {
			list = "No agents."
		}
		a.sendResponse(chatID, list)

	case "clear":
		if err := a.conv.ClearConversation(ctx); err != nil {
			slog.Error("clear conversation", "error", err)
			a.sendResponse(chatID, "Error clearing the conversation.")
			return
		}
		a.sendResponse(chatID, "Conversation cleared.")

	default:
		a.sendResponse(chatID, "Unknown command. Available: /start, /status, /agents, /clear")
	}
}

func (a *Adapter) permitted(userID int64) bool {
	return len(a.allowed) == 0 || slices.Contains(a.allowed, userID)
}

func (a *Adapter) sendResponse(chatID int64, text string) {
	for _, part := range splitMessage(text) {
		msg := tgbotapi.NewMessage(chatID, part)
		msg.ParseMode = "Markdown"
		if _, err := a.out.Send(msg); err != nil {
			// Retry without markdown if it fails
			msg.ParseMode = ""
			if _, err := a.out.Send(msg); err != nil {
				slog.Error("send telegram message", "chat", chatID, "error", err)
			}
		}
	}
}

// splitMessage cuts text into Telegram-sized parts, preferring line breaks
// and never splitting a UTF-8 sequence.
func splitMessage(text string) []string {
	if len(text) <= maxTelegramMessage {
		return []string{text}
	}
	var parts []string
	for len(text) > maxTelegramMessage {
		end := maxTelegramMessage
		for end > 0 && !utf8.RuneStart(text[end]) {
			end--
		}
		if nl := strings.LastIndexByte(text[:end], '\n'); nl > maxTelegramMessage/2 {
			end = nl + 1
		}
		parts = append(parts, text[:end])
		text = text[end:]
	}
	if text != "" {
		parts = append(parts, text)
	}
	return parts
}

// Origin is the interaction source for a chat.
func Origin(chatID int64) types.Origin {
	return types.NewOrigin("telegram", strconv.FormatInt(chatID, 10))
}

// ChatID parses an origin built by Origin.
func ChatID(origin types.Origin) (int64, error) {
	rest, ok := strings.CutPrefix(string(origin), "telegram:")
	if !ok {
		return 0, fmt.Errorf("not a telegram origin: %s", origin)
	}
	id, err := strconv.ParseInt(rest, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse chat id: %w", err)
	}
	return id, nil
}
