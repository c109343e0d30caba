package session

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"

	"github.com/lm-plugin/worker/internal/content"
	"github.com/lm-plugin/worker/internal/state"
	"github.com/lm-plugin/worker/internal/stream"
	"github.com/lm-plugin/worker/pkg/types"
)

// contentPrefix introduces the document in the user turn of a summary.
const contentPrefix = "Please process this information according to your system prompt:\n\n"

// ErrNoPrompt means the settings hold no prompts at all.
var ErrNoPrompt = errors.New("no prompts configured")

// Dispatch handles one command. It never blocks on the backend: requests run
// in their own goroutine. Every command supersedes the in-flight request.
func (c *Core) Dispatch(cmd types.Command) {
	gen := c.supersede()
	log := c.log.With().Str("command", string(cmd.Type)).Uint64("generation", gen).Logger()
	log.Debug().Msg("dispatch")

	var err error
	switch cmd.Type {
	case types.CommandGetState:
		c.publishState(c.coord.Current())
	case types.CommandClearChat:
		c.coord.Submit(state.Reset())
	case types.CommandSummariseContent:
		err = c.summariseContent(gen, cmd)
	case types.CommandSummariseTab:
		err = c.summariseTab(gen, cmd)
	case types.CommandAskQuestion:
		err = c.askQuestion(gen, cmd)
	default:
		err = fmt.Errorf("unknown command type %q", cmd.Type)
	}
	if err != nil {
		log.Warn().Err(err).Msg("command rejected")
	}
}

func (c *Core) summariseContent(gen uint64, cmd types.Command) error {
	var req types.SummariseContentRequest
	if err := cmd.Decode(&req); err != nil {
		return err
	}
	if strings.TrimSpace(req.Content) == "" {
		return nil
	}

	name := req.PromptName
	if name == "" {
		name = types.PromptCustomContent
	}
	settings := c.settings.Settings()
	msgs, err := seed(settings, name, req.Content)
	if err != nil {
		c.notifyError(gen, err.Error())
		return err
	}

	ctx, ok := c.begin(gen)
	if !ok || !c.submitIf(gen, startExchange(msgs, true)) {
		return nil
	}
	c.request(ctx, gen, settings, msgs)
	return nil
}

func (c *Core) summariseTab(gen uint64, cmd types.Command) error {
	var req types.SummariseTabRequest
	if err := cmd.Decode(&req); err != nil {
		return err
	}
	ctx, ok := c.begin(gen)
	if !ok {
		return nil
	}

	c.spawn(func() {
		text, err := c.content.Extract(ctx, req.TabID)
		if err == nil && strings.TrimSpace(text) == "" {
			err = &content.ExtractionError{Handle: req.TabID, Reason: content.ReasonNoText}
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.release(gen)
			c.notifyError(gen, extractionMessage(err))
			c.log.Warn().Err(err).Str("tab", req.TabID).Msg("content extraction failed")
			return
		}

		settings := c.settings.Settings()
		msgs, err := seed(settings, req.PromptName, text)
		if err != nil {
			c.release(gen)
			c.notifyError(gen, err.Error())
			return
		}
		if !c.submitIf(gen, startExchange(msgs, true)) {
			return
		}
		c.logResult(gen, c.exchange(ctx, gen, settings, msgs))
	})
	return nil
}

func (c *Core) askQuestion(gen uint64, cmd types.Command) error {
	var req types.AskQuestionRequest
	if err := cmd.Decode(&req); err != nil {
		return err
	}

	snap := c.coord.Current()
	if len(snap.APIMessages) <= 1 {
		c.log.Debug().Msg("question ignored without a prior exchange")
		return nil
	}

	settings := c.settings.Settings()
	system := ""
	if p, ok := settings.FindPrompt(types.PromptCustomContent); ok {
		system = substitute(p.Prompt, settings.Lang)
	}
	msgs := []types.APIMessage{{Role: types.RoleSystem, Content: system}}
	for _, m := range snap.APIMessages {
		if m.Role != types.RoleSystem {
			msgs = append(msgs, m)
		}
	}
	msgs = append(msgs, types.APIMessage{Role: types.RoleUser, Content: req.Content + "\n\n"})

	ctx, ok := c.begin(gen)
	if !ok {
		return nil
	}
	if !c.submitIf(gen, askQuestion(msgs, html.EscapeString(req.Content))) ||
		!c.submitIf(gen, startExchange(msgs, false)) {
		return nil
	}
	c.request(ctx, gen, settings, msgs)
	return nil
}

// request runs the exchange in the background.
func (c *Core) request(ctx context.Context, gen uint64, settings types.Settings, msgs []types.APIMessage) {
	c.spawn(func() {
		c.logResult(gen, c.exchange(ctx, gen, settings, msgs))
	})
}

// exchange posts msgs and streams the reply into the in-flight entry. A
// request failure is reported to the foreground and rolled back; a
// superseded request returns nil without touching the state.
func (c *Core) exchange(ctx context.Context, gen uint64, settings types.Settings, msgs []types.APIMessage) error {
	defer c.release(gen)

	st, err := c.completer.Open(ctx, settings, msgs)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		message := stream.UserMessage(err)
		if message == "" {
			message = err.Error()
		}
		c.notifyError(gen, message)
		c.submitIf(gen, rollback())
		return err
	}
	defer st.Cancel()

	err = st.Each(ctx, func(text string) {
		if text != "" {
			c.submitIf(gen, streaming(text))
		}
	})
	if ctx.Err() != nil {
		return nil
	}

	// A read error mid-stream keeps the partial reply.
	c.submitIf(gen, settle())
	return err
}

func (c *Core) logResult(gen uint64, err error) {
	if err != nil {
		c.log.Error().Err(err).Uint64("generation", gen).Msg("request failed")
	}
}

// seed builds the two-entry conversation of a primary exchange.
func seed(settings types.Settings, promptName, text string) ([]types.APIMessage, error) {
	prompt, ok := settings.FindPrompt(promptName)
	if !ok {
		return nil, ErrNoPrompt
	}
	return []types.APIMessage{
		{Role: types.RoleSystem, Content: substitute(prompt.Prompt, settings.Lang)},
		{Role: types.RoleUser, Content: contentPrefix + strings.TrimSpace(text)},
	}, nil
}

func substitute(prompt, lang string) string {
	return strings.ReplaceAll(prompt, "{lang}", lang)
}

func extractionMessage(err error) string {
	var extractErr *content.ExtractionError
	if errors.As(err, &extractErr) {
		return extractErr.Reason
	}
	return err.Error()
}
