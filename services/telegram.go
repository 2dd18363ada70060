package services

import (
	context2 "context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	tb "gopkg.in/telebot.v3"

	"github.com/requiem-ai/opencode-agent/config"
	"github.com/requiem-ai/opencode-agent/context"
	"github.com/requiem-ai/opencode-agent/flow"
	"github.com/requiem-ai/opencode-agent/llm"
	"github.com/requiem-ai/opencode-agent/opencode"
)

var botCommands = []tb.Command{
	{Text: "start", Description: "Show quick start instructions"},
	{Text: "agents", Description: "List conversation agents"},
	{Text: "use", Description: "Talk to another agent: /use <name|id>"},
	{Text: "models", Description: "List OpenCode models"},
	{Text: "clear", Description: "Forget the current conversation"},
	{Text: "task", Description: "Run an AI task: /task [json] <instructions>"},
	{Text: "reconfigure", Description: "Switch model: /reconfigure <name|id> <model>"},
	{Text: "remove", Description: "Delete an agent or task: /remove <name|id>"},
}

// agentRouter is the part of AgentService the bot uses.
type agentRouter interface {
	Agents() []AgentInfo
	Tasks() []AgentInfo
	Run(ctx context2.Context, agentID, conversationID, msg string) (llm.Response, error)
	Clear(ctx context2.Context, agentID, conversationID string) error
	Generate(ctx context2.Context, taskID string, req opencode.TaskRequest) (opencode.TaskResult, error)
	Models(ctx context2.Context) ([]string, error)
	Reconfigure(ctx context2.Context, id, model string) (*flow.Result, error)
	Remove(ctx context2.Context, id string) error
}

// chatState is the agent and conversation a chat or topic is talking to.
type chatState struct {
	AgentID        string
	ConversationID string
}

type TelegramService struct {
	context.DefaultService

	Config *config.Config
	Bot    *tb.Bot

	agent agentRouter

	mu    sync.Mutex
	chats map[string]*chatState
}

const TELEGRAM_SVC = "telegram_svc"

const requestTimeout = 2 * time.Minute

func (svc TelegramService) Id() string {
	return TELEGRAM_SVC
}

func (svc *TelegramService) Configure(ctx *context.Context) (err error) {
	svc.chats = make(map[string]*chatState)

	if !svc.Config.TelegramEnabled() {
		log.Warn().Msg("TELEGRAM_SECRET not set, Telegram bot disabled")
		return svc.DefaultService.Configure(ctx)
	}

	svc.Bot, err = tb.NewBot(tb.Settings{
		Token: svc.Config.TelegramSecret,
		Poller: &tb.LongPoller{
			Timeout: 30 * time.Second,
		},
		OnError: func(err error, c tb.Context) {
			svc.decorateTelegramEvent(log.Error().Err(err), c).Msg("telegram bot error")
		},
	})
	if err != nil {
		return err
	}

	return svc.DefaultService.Configure(ctx)
}

func (svc *TelegramService) Start() error {
	if svc.Bot == nil {
		return nil
	}

	agent, ok := svc.Service(AGENT_SVC).(*AgentService)
	if !ok {
		return errors.New("agent service not available")
	}
	svc.agent = agent

	svc.setupHandlers()
	svc.sendOnlineMessage()

	go svc.Bot.Start()

	return nil
}

func (svc *TelegramService) Shutdown() {
	if svc.Bot == nil {
		return
	}
	svc.Bot.Stop()
}

func (svc *TelegramService) setupHandlers() {
	svc.Bot.Handle("/start", svc.guardHandler(svc.onStart))
	svc.Bot.Handle("/agents", svc.guardHandler(svc.onAgents))
	svc.Bot.Handle("/use", svc.guardHandler(svc.onUse))
	svc.Bot.Handle("/models", svc.guardHandler(svc.onModels))
	svc.Bot.Handle("/clear", svc.guardHandler(svc.onClear))
	svc.Bot.Handle("/task", svc.guardHandler(svc.onTask))
	svc.Bot.Handle("/reconfigure", svc.guardHandler(svc.onReconfigure))
	svc.Bot.Handle("/remove", svc.guardHandler(svc.onRemove))

	svc.Bot.Handle(tb.OnText, svc.guardHandler(svc.onText))
}

func (svc *TelegramService) sendOnlineMessage() {
	chatID, ok := svc.mainChatID()
	if !ok {
		log.Warn().Msg("skipping online message: main chat id not configured or discoverable")
		return
	}

	_, err := svc.Bot.Send(&tb.Chat{ID: chatID}, svc.Config.TelegramOnlineMessage)
	if err != nil {
		log.Error().Err(err).Int64("chat_id", chatID).Msg("failed to send online message")
		return
	}

	log.Info().Int64("chat_id", chatID).Msg("sent online message to main chat")
}

func (svc *TelegramService) mainChatID() (int64, bool) {
	if svc.Config.TelegramMainChatID != 0 {
		return svc.Config.TelegramMainChatID, true
	}

	svc.mu.Lock()
	defer svc.mu.Unlock()
	for key := range svc.chats {
		chatID, _, ok := parseTopicKey(key)
		if ok {
			return chatID, true
		}
	}

	return 0, false
}

func (svc *TelegramService) guardHandler(fn tb.HandlerFunc) tb.HandlerFunc {
	return func(c tb.Context) error {
		if c != nil {
			svc.decorateTelegramEvent(log.Info(), c).Msg("inbound telegram update")
		}

		allowed, reason := svc.isAllowedUser(c)
		if !allowed {
			svc.decorateTelegramEvent(
				log.Warn().
					Str("reason", reason).
					Int64("allowed_user_id", svc.Config.UserID),
				c,
			).Msg("telegram update blocked")
			return nil
		}

		if err := fn(c); err != nil {
			svc.decorateTelegramEvent(log.Error().Err(err), c).Msg("telegram handler returned error")
			return err
		}

		return nil
	}
}

func (svc *TelegramService) decorateTelegramEvent(event *zerolog.Event, c tb.Context) *zerolog.Event {
	if event == nil || c == nil {
		return event
	}

	if chat := c.Chat(); chat != nil {
		event = event.Int64("group_id", chat.ID).Str("chat_type", string(chat.Type))
	}

	if sender := c.Sender(); sender != nil {
		event = event.Int64("user_id", sender.ID).Str("sender_username", sender.Username)
	}

	if msg := c.Message(); msg != nil {
		event = event.
			Int("thread_id", msg.ThreadID).
			Str("message_text", msg.Text)
		if cmd := commandOf(msg.Text); cmd != "" {
			event = event.Str("command", cmd)
		}
	}

	return event
}

func commandOf(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return ""
	}
	fields := strings.Fields(strings.TrimPrefix(text, "/"))
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

func (svc *TelegramService) isAllowedUser(c tb.Context) (bool, string) {
	if svc.Config.UserID == 0 {
		return true, ""
	}
	if c == nil {
		return false, "missing_context"
	}
	sender := c.Sender()
	if sender == nil {
		return false, "missing_sender"
	}
	if svc.Bot != nil && svc.Bot.Me != nil && sender.ID == svc.Bot.Me.ID {
		return false, "sender_is_bot" // Ignore bot msgs
	}
	if sender.ID != svc.Config.UserID {
		return false, "sender_not_allowed"
	}
	return true, ""
}

func (svc *TelegramService) onStart(c tb.Context) error {
	return c.Send("Send a message to talk to the current agent.\n" +
		"/agents lists agents, /use switches agent, /clear starts over, " +
		"/task runs an AI task, /models lists models, " +
		"/reconfigure switches a model and /remove deletes an agent or task.")
}

func (svc *TelegramService) onText(c tb.Context) error {
	msg := c.Message()
	if msg == nil || strings.HasPrefix(msg.Text, "/") {
		return nil
	}

	state := svc.chatState(c)
	svc.mu.Lock()
	agentID, conversationID := state.AgentID, state.ConversationID
	svc.mu.Unlock()

	_ = c.Notify(tb.Typing)

	ctx, cancel := context2.WithTimeout(context2.Background(), requestTimeout)
	defer cancel()

	resp, err := svc.agent.Run(ctx, agentID, conversationID, msg.Text)
	if err != nil {
		log.Error().Err(err).Str("agent", agentID).Msg("failed to run agent request")
		if errors.Is(err, ErrNoAgent) {
			return c.Send("No conversation agent is configured.")
		}
		return c.Send("Agent failed to run.")
	}

	svc.mu.Lock()
	state.ConversationID = resp.ConversationID
	svc.mu.Unlock()

	return c.Send(escapeMarkdownV2(resp.Text), &tb.SendOptions{ParseMode: tb.ModeMarkdownV2})
}

func (svc *TelegramService) onAgents(c tb.Context) error {
	agents := svc.agent.Agents()
	if len(agents) == 0 {
		return c.Send("No conversation agents configured.")
	}

	state := svc.chatState(c)
	svc.mu.Lock()
	current := state.AgentID
	svc.mu.Unlock()

	var sb strings.Builder
	for i, a := range agents {
		marker := " "
		if a.ID == current || (current == "" && i == 0) {
			marker = "*"
		}
		fmt.Fprintf(&sb, "%s %s (%s) id=%s\n", marker, a.Name, a.Model, a.ID)
	}
	return c.Send(sb.String())
}

func (svc *TelegramService) onUse(c tb.Context) error {
	want := strings.TrimSpace(strings.Join(c.Args(), " "))
	if want == "" {
		return c.Send("Usage: /use <name|id>")
	}

	for _, a := range svc.agent.Agents() {
		if a.ID == want || strings.EqualFold(a.Name, want) {
			state := svc.chatState(c)
			svc.mu.Lock()
			state.AgentID = a.ID
			state.ConversationID = ""
			svc.mu.Unlock()
			return c.Send(fmt.Sprintf("Now talking to %s.", a.Name))
		}
	}
	return c.Send(fmt.Sprintf("No agent named %q.", want))
}

func (svc *TelegramService) onModels(c tb.Context) error {
	ctx, cancel := context2.WithTimeout(context2.Background(), requestTimeout)
	defer cancel()

	models, err := svc.agent.Models(ctx)
	if err != nil {
		log.Error().Err(err).Msg("failed to list models")
		return c.Send("Couldn't list models.")
	}
	if len(models) == 0 {
		return c.Send("No models available.")
	}
	return c.Send(strings.Join(models, "\n"))
}

func (svc *TelegramService) onClear(c tb.Context) error {
	state := svc.chatState(c)

	svc.mu.Lock()
	agentID, conversationID := state.AgentID, state.ConversationID
	state.ConversationID = ""
	svc.mu.Unlock()

	if conversationID != "" {
		if err := svc.agent.Clear(context2.Background(), agentID, conversationID); err != nil {
			log.Error().Err(err).Msg("failed to clear conversation")
		}
	}
	return c.Send("Conversation cleared.")
}

func (svc *TelegramService) onTask(c tb.Context) error {
	args := c.Args()
	structured := len(args) > 0 && strings.EqualFold(args[0], "json")
	if structured {
		args = args[1:]
	}
	instructions := strings.TrimSpace(strings.Join(args, " "))
	if instructions == "" {
		return c.Send("Usage: /task [json] <instructions>")
	}

	_ = c.Notify(tb.Typing)

	ctx, cancel := context2.WithTimeout(context2.Background(), requestTimeout)
	defer cancel()

	res, err := svc.agent.Generate(ctx, "", opencode.TaskRequest{
		Name:         "telegram",
		Instructions: instructions,
		Structured:   structured,
	})
	if err != nil {
		log.Error().Err(err).Msg("failed to run AI task")
		if errors.Is(err, ErrUnknownTask) {
			return c.Send("No AI task is configured.")
		}
		return c.Send("Task failed to run.")
	}

	text, ok := res.Data.(string)
	if !ok {
		out, err := json.MarshalIndent(res.Data, "", "  ")
		if err != nil {
			return err
		}
		text = "```json\n" + string(out) + "\n```"
	}
	return c.Send(escapeMarkdownV2(text), &tb.SendOptions{ParseMode: tb.ModeMarkdownV2})
}

func (svc *TelegramService) onReconfigure(c tb.Context) error {
	args := c.Args()
	if len(args) < 2 {
		return c.Send("Usage: /reconfigure <name|id> <model>")
	}
	want, model := strings.Join(args[:len(args)-1], " "), args[len(args)-1]
	profile, ok := svc.findProfile(want)
	if !ok {
		return c.Send(fmt.Sprintf("No agent or task named %q.", want))
	}

	ctx, cancel := context2.WithTimeout(context2.Background(), requestTimeout)
	defer cancel()

	res, err := svc.agent.Reconfigure(ctx, profile.ID, model)
	switch {
	case errors.Is(err, ErrUnknownModel):
		return c.Send(fmt.Sprintf("Unknown model %q. See /models.", model))
	case err != nil:
		log.Error().Err(err).Str("profile", profile.ID).Msg("failed to reconfigure")
		return c.Send("Reconfigure failed.")
	case res.Reason != flow.ReasonReconfigureSuccessful:
		return c.Send(fmt.Sprintf("Reconfigure aborted: %s", describeReason(res.Reason)))
	}

	svc.forgetConversations(profile.ID, false)
	return c.Send(fmt.Sprintf("%s now uses %s.", profile.Name, model))
}

func (svc *TelegramService) onRemove(c tb.Context) error {
	want := strings.TrimSpace(strings.Join(c.Args(), " "))
	if want == "" {
		return c.Send("Usage: /remove <name|id>")
	}
	profile, ok := svc.findProfile(want)
	if !ok {
		return c.Send(fmt.Sprintf("No agent or task named %q.", want))
	}

	if err := svc.agent.Remove(context2.Background(), profile.ID); err != nil {
		log.Error().Err(err).Str("profile", profile.ID).Msg("failed to remove")
		return c.Send("Remove failed.")
	}

	svc.forgetConversations(profile.ID, true)
	return c.Send(fmt.Sprintf("Removed %s.", profile.Name))
}

// findProfile matches an agent or task by id or by name, ignoring case.
func (svc *TelegramService) findProfile(want string) (AgentInfo, bool) {
	for _, p := range append(svc.agent.Agents(), svc.agent.Tasks()...) {
		if p.ID == want || strings.EqualFold(p.Name, want) {
			return p, true
		}
	}
	return AgentInfo{}, false
}

// forgetConversations starts over the chats talking to agent id, whose
// history went away with the reload. Removed agents are deselected too.
func (svc *TelegramService) forgetConversations(id string, removed bool) {
	svc.mu.Lock()
	defer svc.mu.Unlock()
	for _, state := range svc.chats {
		if state.AgentID != id {
			continue
		}
		state.ConversationID = ""
		if removed {
			state.AgentID = ""
		}
	}
}

// chatState returns the state of the chat or forum topic c belongs to.
func (svc *TelegramService) chatState(c tb.Context) *chatState {
	var chatID int64
	if chat := c.Chat(); chat != nil {
		chatID = chat.ID
	}
	threadID := 0
	if msg := c.Message(); msg != nil && msg.TopicMessage {
		threadID = msg.ThreadID
	}
	key := topicKey(chatID, threadID)

	svc.mu.Lock()
	defer svc.mu.Unlock()
	state, ok := svc.chats[key]
	if !ok {
		state = &chatState{}
		svc.chats[key] = state
	}
	return state
}

func topicKey(chatID int64, threadID int) string {
	return fmt.Sprintf("%d:%d", chatID, threadID)
}

func parseTopicKey(key string) (int64, int, bool) {
	parts := strings.SplitN(key, ":", 2)
	if len(parts) != 2 {
		return 0, 0, false
	}
	chatID, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return 0, 0, false
	}
	threadID, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, 0, false
	}
	return chatID, threadID, true
}
