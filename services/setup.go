package services

import (
	"bufio"
	ctx "context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"math/big"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	tb "gopkg.in/telebot.v3"

	"github.com/requiem-ai/opencode-agent/config"
	"github.com/requiem-ai/opencode-agent/context"
	"github.com/requiem-ai/opencode-agent/entries"
	"github.com/requiem-ai/opencode-agent/flow"
	"github.com/requiem-ai/opencode-agent/opencode"
)

// SetupService walks the operator through the OpenCode, conversation agent
// and Telegram setup on the terminal.
type SetupService struct {
	context.DefaultService

	Config *config.Config
	In     io.Reader
	Out    io.Writer
	// EnvPath is the .env file answers are saved to. Defaults to ./.env.
	EnvPath string

	reader *bufio.Reader
}

const SETUP_SVC = "setup_svc"

func (svc SetupService) Id() string {
	return SETUP_SVC
}

func (svc *SetupService) Configure(c *context.Context) error {
	if err := svc.DefaultService.Configure(c); err != nil {
		return err
	}
	if svc.Config.SetupSkip {
		log.Warn().Msg("Skipping interactive setup")
		return nil
	}

	if svc.In == nil {
		svc.In = os.Stdin
	}
	if svc.Out == nil {
		svc.Out = os.Stdout
	}
	svc.reader = bufio.NewReader(svc.In)

	host, ok := svc.Service(HOST_SVC).(*HostService)
	if !ok {
		return errors.New("host service not available")
	}

	if err := svc.runOpenCodeSetup(ctx.Background(), host); err != nil {
		return err
	}
	if err := svc.runProfileSetup(ctx.Background(), host); err != nil {
		return err
	}
	return svc.runTelegramSetup()
}

func (svc *SetupService) runOpenCodeSetup(c ctx.Context, host *HostService) error {
	for _, entry := range host.Entries().Entries(opencode.Domain) {
		if entry.State() != entries.StateSetupError {
			continue
		}
		fmt.Fprintf(svc.Out, "OpenCode entry %q failed to load: %s\n", entry.Title(), entry.Reason())
		if !svc.confirm("Remove it and set up OpenCode again? (y/N): ") {
			continue
		}
		if err := host.Entries().RemoveEntry(c, entry.ID()); err != nil {
			return err
		}
	}
	if len(host.Entries().Entries(opencode.Domain)) > 0 {
		return nil
	}

	fmt.Fprintln(svc.Out, "OpenCode setup")
	fmt.Fprintln(svc.Out, "Get an API key from https://opencode.ai/auth")
	fmt.Fprintln(svc.Out, "")

	res, err := host.Flows().InitConfigFlow(c, opencode.Domain)
	if err != nil {
		return err
	}

	var preset flow.Input
	if key := strings.TrimSpace(svc.Config.APIKey); key != "" {
		preset = flow.Input{opencode.ConfAPIKey: key}
	}

	res, err = svc.completeFlow(c, host.Flows(), res, preset)
	if err != nil {
		return err
	}

	switch res.Type {
	case flow.ResultCreateEntry:
		fmt.Fprintln(svc.Out, "OpenCode connected.")
	case flow.ResultAbort:
		fmt.Fprintf(svc.Out, "OpenCode setup aborted: %s\n", describeReason(res.Reason))
	}
	return nil
}

// profileLabels names the subentry types in wizard prompts.
var profileLabels = map[string]string{
	opencode.SubentryConversation: "conversation agent",
	opencode.SubentryAITaskData:   "AI task",
}

func profileLabel(subentryType string) string {
	if label, ok := profileLabels[subentryType]; ok {
		return label
	}
	return subentryType
}

// runProfileSetup offers to create each kind of subentry a loaded entry has
// none of.
func (svc *SetupService) runProfileSetup(c ctx.Context, host *HostService) error {
	flows := host.Flows()
	for _, entry := range host.Entries().Entries(opencode.Domain) {
		for _, subentryType := range flows.SubentryTypes(opencode.Domain) {
			if entry.State() != entries.StateLoaded || len(entry.Subentries(subentryType)) > 0 {
				continue
			}

			label := profileLabel(subentryType)
			if !svc.confirm(fmt.Sprintf("No %s configured. Create one now? (y/N): ", label)) {
				continue
			}

			res, err := flows.InitSubentryFlow(c, entry.ID(), subentryType, entries.SourceUser, "")
			if err != nil {
				return err
			}
			res, err = svc.completeFlow(c, flows, res, nil)
			if err != nil {
				return err
			}

			label = strings.ToUpper(label[:1]) + label[1:]
			switch res.Type {
			case flow.ResultCreateEntry:
				fmt.Fprintf(svc.Out, "%s %q created.\n", label, res.Title)
			case flow.ResultAbort:
				fmt.Fprintf(svc.Out, "%s setup aborted: %s\n", label, describeReason(res.Reason))
			}
		}
	}
	return nil
}

// completeFlow answers forms on the terminal until the flow ends. preset
// answers the first form without prompting.
func (svc *SetupService) completeFlow(c ctx.Context, flows *flow.Manager, res *flow.Result, preset flow.Input) (*flow.Result, error) {
	for res.Type == flow.ResultForm {
		svc.printFormErrors(res.Errors)

		input := preset
		preset = nil
		if input == nil {
			var err error
			input, err = svc.promptForm(res.Schema)
			if err != nil {
				_ = flows.Abort(res.FlowID)
				return nil, err
			}
		}

		next, err := flows.Configure(c, res.FlowID, input)
		if err != nil {
			return nil, err
		}
		res = next
	}
	return res, nil
}

func (svc *SetupService) printFormErrors(errs map[string]string) {
	keys := make([]string, 0, len(errs))
	for k := range errs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if k == "base" {
			fmt.Fprintf(svc.Out, "Error: %s\n", describeError(errs[k]))
			continue
		}
		fmt.Fprintf(svc.Out, "Error in %s: %s\n", fieldLabel(k), describeError(errs[k]))
	}
}

func (svc *SetupService) promptForm(schema flow.Schema) (flow.Input, error) {
	input := flow.Input{}
	for _, f := range schema {
		var (
			value any
			err   error
		)
		switch sel := f.Selector.(type) {
		case flow.SelectSelector:
			value, err = svc.promptSelect(f, sel)
		case flow.TextSelector:
			current := stringValue(f)
			if sel.Password {
				current = ""
			}
			if f.Required {
				value, err = svc.promptRequired(fieldLabel(f.Key), current)
			} else {
				value, err = svc.promptWithDefault(fieldLabel(f.Key), current, "")
			}
		case flow.TemplateSelector:
			value, err = svc.promptTemplate(fieldLabel(f.Key), stringValue(f))
		default:
			value, err = svc.promptWithDefault(fieldLabel(f.Key), stringValue(f), "")
		}
		if err != nil {
			return nil, err
		}
		if value != nil {
			input[f.Key] = value
		}
	}
	return input, nil
}

// promptSelect lists the options and reads numbers or values. Multi-selects
// take a comma separated list, "-" selects nothing.
func (svc *SetupService) promptSelect(f flow.Field, sel flow.SelectSelector) (any, error) {
	options := sel.Options
	if sel.Sort {
		options = sel.DisplayOptions()
	}

	fmt.Fprintf(svc.Out, "%s:\n", fieldLabel(f.Key))
	for i, o := range options {
		if o.Label != o.Value {
			fmt.Fprintf(svc.Out, "  %d) %s (%s)\n", i+1, o.Label, o.Value)
		} else {
			fmt.Fprintf(svc.Out, "  %d) %s\n", i+1, o.Value)
		}
	}

	current := ""
	if list, ok := flow.StringList(f.Default); ok && f.Default != nil {
		current = strings.Join(list, ",")
	} else if s, ok := f.Default.(string); ok {
		current = s
	}

	for {
		var (
			answer string
			err    error
		)
		if f.Required {
			answer, err = svc.promptRequired("Choice", current)
		} else {
			answer, err = svc.promptWithDefault("Choice", current, "")
		}
		if err != nil {
			return nil, err
		}

		if !sel.Multiple {
			if answer == "" {
				return nil, nil
			}
			if value, ok := resolveOption(options, answer); ok {
				return value, nil
			}
			fmt.Fprintln(svc.Out, "Unknown option.")
			continue
		}

		if answer == "-" {
			return []string{}, nil
		}
		values := []string{}
		valid := true
		for _, part := range strings.Split(answer, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			value, ok := resolveOption(options, part)
			if !ok {
				valid = false
				break
			}
			values = append(values, value)
		}
		if valid {
			return values, nil
		}
		fmt.Fprintln(svc.Out, "Unknown option.")
	}
}

// resolveOption accepts a 1-based index or an option value.
func resolveOption(options []flow.SelectOption, answer string) (string, bool) {
	if n, err := strconv.Atoi(answer); err == nil && n >= 1 && n <= len(options) {
		return options[n-1].Value, true
	}
	for _, o := range options {
		if o.Value == answer {
			return o.Value, true
		}
	}
	return "", false
}

func stringValue(f flow.Field) string {
	if s, ok := f.Suggested.(string); ok && s != "" {
		return s
	}
	s, _ := f.Default.(string)
	return s
}

var fieldLabels = map[string]string{
	opencode.ConfAPIKey:     "OpenCode API key",
	opencode.ConfModel:      "Model",
	opencode.ConfPrompt:     "Instructions",
	opencode.ConfLLMHassAPI: "Control APIs",
}

func fieldLabel(key string) string {
	if label, ok := fieldLabels[key]; ok {
		return label
	}
	return key
}

func describeError(code string) string {
	switch code {
	case opencode.ErrorInvalidAuth:
		return "the API key was rejected"
	case opencode.ErrorCannotConnect:
		return "could not reach OpenCode"
	case flow.ErrorRequired:
		return "a value is required"
	case flow.ErrorInvalidOption:
		return "not one of the offered options"
	case flow.ErrorInvalidTemplate:
		return "not a valid template"
	default:
		return "unexpected error, see the log"
	}
}

func describeReason(reason string) string {
	switch reason {
	case flow.ReasonAlreadyConfigured:
		return "this API key is already configured"
	case opencode.ReasonEntryNotLoaded:
		return "the OpenCode entry is not loaded"
	case opencode.ReasonCannotConnect:
		return "could not reach OpenCode"
	default:
		return reason
	}
}

func (svc *SetupService) runTelegramSetup() error {
	if svc.Config.TelegramEnabled() {
		if err := svc.registerTelegramBotCommands(svc.Config.TelegramSecret); err != nil {
			return err
		}
		return svc.runTelegramUserIDSetup(svc.Config.TelegramSecret)
	}

	if !svc.confirm("Enable the Telegram bot? (y/N): ") {
		return nil
	}

	fmt.Fprintln(svc.Out, "Telegram setup")
	fmt.Fprintln(svc.Out, "BotFather tips:")
	fmt.Fprintln(svc.Out, "- Create a bot with /newbot, then copy the token.")
	fmt.Fprintln(svc.Out, "- No webhook needed; this service uses long polling.")
	fmt.Fprintln(svc.Out, "")

	secret, err := svc.promptRequired("Bot token (from BotFather /newbot)", "")
	if err != nil {
		return err
	}
	svc.Config.TelegramSecret = secret

	if err := svc.saveEnv(map[string]string{"TELEGRAM_SECRET": secret}); err != nil {
		return err
	}

	fmt.Fprintln(svc.Out, "Telegram setup saved to .env.")
	if err := svc.registerTelegramBotCommands(secret); err != nil {
		return err
	}
	return svc.runTelegramUserIDSetup(secret)
}

func (svc *SetupService) runTelegramUserIDSetup(secret string) error {
	if svc.Config.UserID != 0 {
		return nil
	}
	if strings.TrimSpace(secret) == "" {
		return errors.New("telegram bot token is required before USER_ID setup")
	}

	code, err := generateVerificationCode()
	if err != nil {
		return err
	}

	fmt.Fprintln(svc.Out, "")
	fmt.Fprintln(svc.Out, "Telegram user verification")
	fmt.Fprintln(svc.Out, "Send this code to the bot in Telegram to authorize your user:")
	fmt.Fprintln(svc.Out, code)
	fmt.Fprintln(svc.Out, "")

	userID, err := svc.waitForTelegramVerification(secret, code, 5*time.Minute)
	if err != nil {
		return err
	}
	svc.Config.UserID = userID

	if err := svc.saveEnv(map[string]string{"USER_ID": strconv.FormatInt(userID, 10)}); err != nil {
		return err
	}

	fmt.Fprintln(svc.Out, "USER_ID saved to .env.")
	return nil
}

func (svc *SetupService) registerTelegramBotCommands(secret string) error {
	bot, err := tb.NewBot(tb.Settings{
		Token:  secret,
		Poller: &tb.LongPoller{Timeout: 1 * time.Second},
	})
	if err != nil {
		return err
	}

	if err := bot.SetCommands(botCommands, tb.CommandScope{Type: tb.CommandScopeDefault}); err != nil {
		return err
	}

	fmt.Fprintln(svc.Out, "Telegram commands and menu updated.")
	return nil
}

func (svc *SetupService) waitForTelegramVerification(secret, code string, timeout time.Duration) (int64, error) {
	bot, err := tb.NewBot(tb.Settings{
		Token:  secret,
		Poller: &tb.LongPoller{Timeout: 10 * time.Second},
	})
	if err != nil {
		return 0, err
	}

	done := make(chan int64, 1)
	bot.Handle(tb.OnText, func(c tb.Context) error {
		if strings.TrimSpace(c.Text()) != code {
			return nil
		}
		sender := c.Sender()
		if sender == nil {
			return nil
		}
		select {
		case done <- sender.ID:
		default:
		}
		_ = c.Send("Verification received. You can return to the setup.")
		return nil
	})

	go bot.Start()
	defer bot.Stop()

	select {
	case userID := <-done:
		return userID, nil
	case <-time.After(timeout):
		return 0, errors.New("telegram verification timed out")
	}
}

func generateVerificationCode() (string, error) {
	const codeDigits = 6
	const maxDigit = 10

	var sb strings.Builder
	sb.Grow(codeDigits)
	for i := 0; i < codeDigits; i++ {
		n, err := rand.Int(rand.Reader, big.NewInt(maxDigit))
		if err != nil {
			return "", err
		}
		sb.WriteString(strconv.Itoa(int(n.Int64())))
	}
	return sb.String(), nil
}

func (svc *SetupService) saveEnv(updates map[string]string) error {
	path := svc.EnvPath
	if path == "" {
		var err error
		if path, err = config.EnvFilePath(); err != nil {
			return err
		}
	}
	return config.UpdateEnvFile(path, updates)
}

func (svc *SetupService) confirm(prompt string) bool {
	fmt.Fprint(svc.Out, prompt)
	text, _ := svc.reader.ReadString('\n')
	text = strings.TrimSpace(strings.ToLower(text))
	return text == "y" || text == "yes"
}

func (svc *SetupService) promptRequired(label, current string) (string, error) {
	for {
		value, err := svc.promptWithDefault(label, current, "")
		if err != nil {
			return "", err
		}
		if strings.TrimSpace(value) == "" {
			fmt.Fprintln(svc.Out, "Value required.")
			continue
		}
		return value, nil
	}
}

func (svc *SetupService) promptWithDefault(label, current, fallback string) (string, error) {
	display := current
	if display == "" {
		display = fallback
	}

	if display != "" {
		fmt.Fprintf(svc.Out, "%s [%s]: ", label, summarize(display))
	} else {
		fmt.Fprintf(svc.Out, "%s: ", label)
	}

	text, err := svc.reader.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && text != "") {
		return "", err
	}

	text = strings.TrimSpace(text)
	if text == "" {
		if current != "" {
			return current, nil
		}
		return fallback, nil
	}

	return text, nil
}

// promptTemplate reads a template from one line, or from several when the
// answer is "<<WORD": the lines that follow, up to one holding only WORD.
func (svc *SetupService) promptTemplate(label, current string) (string, error) {
	text, err := svc.promptWithDefault(label+" (<<END for several lines)", current, "")
	if err != nil || text == current {
		return text, err
	}
	marker, ok := strings.CutPrefix(text, "<<")
	if !ok {
		return text, nil
	}
	marker = strings.TrimSpace(marker)
	if marker == "" {
		marker = "END"
	}

	var lines []string
	for {
		line, err := svc.reader.ReadString('\n')
		if err != nil && !(errors.Is(err, io.EOF) && line != "") {
			return "", err
		}
		line = strings.TrimRight(line, "\r\n")
		if strings.TrimSpace(line) == marker {
			return strings.Join(lines, "\n"), nil
		}
		lines = append(lines, line)
	}
}

// summarize shortens multi-line defaults to their first line.
func summarize(s string) string {
	first, _, multi := strings.Cut(strings.TrimSpace(s), "\n")
	if multi {
		return first + " ..."
	}
	return first
}
