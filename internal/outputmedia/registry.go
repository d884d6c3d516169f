// Package outputmedia manages the custom emoji known to the bot: the
// prompt context advertised to the model and the repair pass applied to
// model output.
package outputmedia

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/bwmarrin/discordgo"

	"github.com/user/hatsuka/internal/config"
)

// Emoji is one resolvable custom emoji.
type Emoji struct {
	Name        string
	ID          string
	Animated    bool
	Description string
}

// Token renders the transport-native form, e.g. <:name:id> or <a:name:id>.
func (e Emoji) Token() string {
	if e.Animated {
		return fmt.Sprintf("<a:%s:%s>", e.Name, e.ID)
	}
	return fmt.Sprintf("<:%s:%s>", e.Name, e.ID)
}

// Registry holds application-level and guild-level emoji. Guild entries
// override application entries on name collision.
type Registry struct {
	mu          sync.RWMutex
	application map[string]Emoji            // name -> emoji
	guilds      map[string]map[string]Emoji // guild id -> name -> emoji
}

// NewRegistry creates a registry seeded from static configuration.
func NewRegistry(cfg config.EmojiConfig) *Registry {
	r := &Registry{
		application: make(map[string]Emoji),
		guilds:      make(map[string]map[string]Emoji),
	}
	for name, entry := range cfg.Application {
		r.application[name] = Emoji{Name: name, ID: entry.ID, Animated: entry.Animated, Description: entry.Description}
	}
	for guildID, entries := range cfg.Guilds {
		m := make(map[string]Emoji, len(entries))
		for name, entry := range entries {
			m[name] = Emoji{Name: name, ID: entry.ID, Animated: entry.Animated, Description: entry.Description}
		}
		r.guilds[guildID] = m
	}
	return r
}

// LoadGuild validates and refreshes one guild's entries against the live
// emoji set fetched from the transport. Entries whose ids no longer exist
// are dropped.
func (r *Registry) LoadGuild(guildID string, live []*discordgo.Emoji) {
	liveByID := make(map[string]*discordgo.Emoji, len(live))
	for _, e := range live {
		liveByID[e.ID] = e
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	entries := r.guilds[guildID]
	if entries == nil {
		return
	}
	for name, emoji := range entries {
		le, ok := liveByID[emoji.ID]
		if !ok {
			delete(entries, name)
			continue
		}
		emoji.Animated = le.Animated
		entries[name] = emoji
	}
}

// Resolve finds an emoji by name: the guild's entry first, then the
// application entry. Ambiguity across guilds is not resolved beyond
// guild-first.
func (r *Registry) Resolve(name, guildID string) (Emoji, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if guildID != "" {
		if e, ok := r.guilds[guildID][name]; ok {
			return e, true
		}
	}
	e, ok := r.application[name]
	return e, ok
}

// BuildPromptContext produces the emoji usage block injected into prompts.
// Empty when nothing is registered.
func (r *Registry) BuildPromptContext(guildID string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var parts []string
	if len(r.application) > 0 {
		parts = append(parts, "**可用的應用程式 Emoji:**")
		parts = append(parts, listEntries(r.application)...)
	}
	if guildID != "" && len(r.guilds[guildID]) > 0 {
		parts = append(parts, "**當前伺服器可用的 Emoji:**")
		parts = append(parts, listEntries(r.guilds[guildID])...)
	}
	if len(parts) == 0 {
		return ""
	}

	return fmt.Sprintf(`Emoji 使用說明：
%s

請在回應中適當使用這些 emoji 來增加表達的生動性。直接使用 emoji 格式即可。
例如：<:thinking:123456789012345678> 讓我想想... <:happy:123456789012345679>`, strings.Join(parts, "\n"))
}

func listEntries(entries map[string]Emoji) []string {
	names := make([]string, 0, len(entries))
	for name := range entries {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]string, 0, len(names))
	for _, name := range names {
		e := entries[name]
		out = append(out, fmt.Sprintf("- %s - %s", e.Token(), e.Description))
	}
	return out
}
