// Package bootstrap wires the long-lived collaborators shared by the
// entrypoints from the loaded configuration.
package bootstrap

import (
	"fmt"
	"os"
	"time"

	"github.com/user/hatsuka/internal/agent"
	"github.com/user/hatsuka/internal/config"
	"github.com/user/hatsuka/internal/conversation"
	"github.com/user/hatsuka/internal/outputmedia"
	"github.com/user/hatsuka/internal/persona"
	"github.com/user/hatsuka/internal/tooling"
	"github.com/user/hatsuka/internal/tooling/tools"
	"github.com/user/hatsuka/pkg/llm"
	"github.com/user/hatsuka/pkg/llm/gemini"
)

// Components are the long-lived collaborators shared by entrypoints.
type Components struct {
	Provider  llm.Provider
	Collector *conversation.Collector
	Registry  *tooling.Registry
	Emoji     *outputmedia.Registry
	Personas  *persona.Store
	Graph     *agent.Graph
}

// Wire builds everything downstream of the configuration.
func Wire(cfg *config.Config) (*Components, error) {
	loc, err := cfg.System.Location()
	if err != nil {
		return nil, fmt.Errorf("load timezone: %w", err)
	}

	roles := make(map[llm.Role]llm.RoleConfig, len(cfg.LLM.Models))
	for name, rc := range cfg.LLM.Models {
		roles[llm.Role(name)] = rc
	}
	provider := gemini.New(llm.Config{
		BaseURL: cfg.LLM.BaseURL,
		APIKey:  os.Getenv("GEMINI_API_KEY"),
		Roles:   roles,
		Retry:   cfg.LLM.Retry.Policy(),
	})

	collector, err := conversation.NewCollector(cfg.Discord.Limits, cfg.Discord.InputMedia)
	if err != nil {
		return nil, fmt.Errorf("create collector: %w", err)
	}

	registry := tooling.NewRegistry()
	register := func(t tooling.Tool) {
		tc, ok := cfg.Agent.Tools[t.Name()]
		if !ok {
			return
		}
		registry.Register(t, tc.Enabled, tc.Priority)
	}
	register(tools.NewWebSearchTool(provider, tools.WebSearchConfig{ExtractContent: false}))
	register(tools.NewVideoSummaryTool(provider, 24*time.Hour))
	register(tools.NewReminderTool(loc))

	personas, err := persona.Load(cfg.Prompt.Persona)
	if err != nil {
		return nil, fmt.Errorf("load personas: %w", err)
	}

	emoji := outputmedia.NewRegistry(cfg.Emoji)

	graph := agent.New(provider, registry, personas, emoji, cfg.Agent.Behavior, cfg.Streaming, nil)

	return &Components{
		Provider:  provider,
		Collector: collector,
		Registry:  registry,
		Emoji:     emoji,
		Personas:  personas,
		Graph:     graph,
	}, nil
}
