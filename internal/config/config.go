// Package config loads and validates the application configuration.
//
// Configuration is a single YAML file decoded in strict mode: unknown keys
// are a load error. Secrets come from the environment and are never written
// back to the file.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/user/hatsuka/pkg/llm"
)

// ErrInvalid is wrapped by all validation failures.
var ErrInvalid = errors.New("invalid config")

// Config is the root configuration.
type Config struct {
	System    SystemConfig    `yaml:"system"`
	Agent     AgentConfig     `yaml:"agent"`
	LLM       LLMConfig       `yaml:"llm"`
	Streaming StreamingConfig `yaml:"streaming"`
	Progress  ProgressConfig  `yaml:"progress"`
	Reminder  ReminderConfig  `yaml:"reminder"`
	Trend     TrendConfig     `yaml:"trend_following"`
	Discord   DiscordConfig   `yaml:"discord"`
	Prompt    PromptConfig    `yaml:"prompt_system"`
	Emoji     EmojiConfig     `yaml:"emoji"`
}

// SystemConfig holds process-wide settings.
type SystemConfig struct {
	Timezone string `yaml:"timezone"`
	LogLevel string `yaml:"log_level"`
}

// Location resolves the configured timezone.
func (s SystemConfig) Location() (*time.Location, error) {
	return time.LoadLocation(s.Timezone)
}

// AgentConfig controls the orchestrator graph.
type AgentConfig struct {
	Behavior BehaviorConfig        `yaml:"behavior"`
	Tools    map[string]ToolConfig `yaml:"tools"`
}

// BehaviorConfig bounds the tool loop.
type BehaviorConfig struct {
	MaxToolRounds    int  `yaml:"max_tool_rounds"`
	TimeoutPerRound  int  `yaml:"timeout_per_round"` // seconds
	EnableReflection bool `yaml:"enable_reflection"`
}

// ToolConfig gates and orders a single tool.
type ToolConfig struct {
	Enabled  bool `yaml:"enabled"`
	Priority int  `yaml:"priority"`
}

// LLMConfig holds per-role model settings.
type LLMConfig struct {
	BaseURL string                    `yaml:"base_url"`
	Models  map[string]llm.RoleConfig `yaml:"models"`
	Retry   RetryConfig               `yaml:"retry"`
}

// RetryConfig tunes gateway retries.
type RetryConfig struct {
	MaxAttempts    int     `yaml:"max_attempts"`
	InitialDelayMS int     `yaml:"initial_delay_ms"`
	Multiplier     float64 `yaml:"multiplier"`
	MaxDelayMS     int     `yaml:"max_delay_ms"`
}

// Policy converts the retry settings to an llm.RetryPolicy.
func (r RetryConfig) Policy() llm.RetryPolicy {
	p := llm.DefaultRetryPolicy()
	if r.MaxAttempts > 0 {
		p.MaxAttempts = r.MaxAttempts
	}
	if r.InitialDelayMS > 0 {
		p.InitialDelay = time.Duration(r.InitialDelayMS) * time.Millisecond
	}
	if r.Multiplier > 0 {
		p.Multiplier = r.Multiplier
	}
	if r.MaxDelayMS > 0 {
		p.MaxDelay = time.Duration(r.MaxDelayMS) * time.Millisecond
	}
	return p
}

// StreamingConfig controls Finalize streaming.
type StreamingConfig struct {
	Enabled          bool `yaml:"enabled"`
	MinContentLength int  `yaml:"min_content_length"`
}

// ProgressConfig holds per-transport bus tuning.
type ProgressConfig struct {
	Discord ProgressTransportConfig `yaml:"discord"`
	CLI     ProgressTransportConfig `yaml:"cli"`
}

// ProgressTransportConfig tunes one transport's observer.
type ProgressTransportConfig struct {
	Enabled              bool              `yaml:"enabled"`
	UpdateInterval       float64           `yaml:"update_interval"` // seconds
	UseEmbeds            bool              `yaml:"use_embeds"`
	CleanupDelay         int               `yaml:"cleanup_delay"` // seconds
	AutoGenerateMessages bool              `yaml:"auto_generate_messages"`
	Messages             map[string]string `yaml:"messages"` // stage -> template
}

// ReminderConfig controls the event scheduler.
type ReminderConfig struct {
	Enabled             bool   `yaml:"enabled"`
	PersistenceFile     string `yaml:"persistence_file"`
	MaxRemindersPerUser int    `yaml:"max_reminders_per_user"`
	CleanupExpired      bool   `yaml:"cleanup_expired_events"`
	GraceSeconds        int    `yaml:"grace_seconds"`
}

// TrendConfig controls the trend-following engine.
type TrendConfig struct {
	Enabled             bool     `yaml:"enabled"`
	AllowedChannels     []string `yaml:"allowed_channels"`
	CooldownSeconds     int      `yaml:"cooldown_seconds"`
	ReactionThreshold   int      `yaml:"reaction_threshold"`
	ContentThreshold    int      `yaml:"content_threshold"`
	EmojiThreshold      int      `yaml:"emoji_threshold"`
	MessageHistoryLimit int      `yaml:"message_history_limit"`
	EnableProbabilistic bool     `yaml:"enable_probabilistic"`
	BaseProbability     float64  `yaml:"base_probability"`
	BoostFactor         float64  `yaml:"probability_boost_factor"`
	MaxProbability      float64  `yaml:"max_probability"`
	EnableRandomDelay   bool     `yaml:"enable_random_delay"`
	MinDelaySeconds     float64  `yaml:"min_delay_seconds"`
	MaxDelaySeconds     float64  `yaml:"max_delay_seconds"`
}

// DiscordConfig holds transport limits and permissions.
type DiscordConfig struct {
	StatusMessage string            `yaml:"status_message"`
	Limits        LimitsConfig      `yaml:"limits"`
	InputMedia    InputMediaConfig  `yaml:"input_media"`
	Permissions   PermissionsConfig `yaml:"permissions"`
	Maintenance   MaintenanceConfig `yaml:"maintenance"`
}

// LimitsConfig shapes inbound conversation size.
type LimitsConfig struct {
	MaxText         int `yaml:"max_text"`
	MaxImages       int `yaml:"max_images"`
	MaxMessages     int `yaml:"max_messages"`
	MaxPromptTokens int `yaml:"max_prompt_tokens"`
}

// InputMediaConfig shapes inbound attachments.
type InputMediaConfig struct {
	MaxAnimatedFrames int `yaml:"max_animated_frames"`
}

// PermissionsConfig gates who may invoke the agent.
type PermissionsConfig struct {
	AllowDMs bool       `yaml:"allow_dms"`
	Users    IDListPair `yaml:"users"`
	Roles    IDListPair `yaml:"roles"`
	Channels IDListPair `yaml:"channels"`
}

// IDListPair is an allow/block list pair. An empty allow list permits all.
type IDListPair struct {
	AllowedIDs []string `yaml:"allowed_ids"`
	BlockedIDs []string `yaml:"blocked_ids"`
}

// MaintenanceConfig short-circuits all requests when enabled.
type MaintenanceConfig struct {
	Enabled bool   `yaml:"enabled"`
	Message string `yaml:"message"`
}

// PromptConfig controls persona selection.
type PromptConfig struct {
	Persona PersonaConfig `yaml:"persona"`
}

// PersonaConfig selects the system-prompt fragment per invocation.
type PersonaConfig struct {
	Enabled          bool   `yaml:"enabled"`
	RandomSelection  bool   `yaml:"random_selection"`
	DefaultPersona   string `yaml:"default_persona"`
	PersonaDirectory string `yaml:"persona_directory"`
}

// EmojiConfig maps emoji names to transport ids.
type EmojiConfig struct {
	Application map[string]EmojiEntry            `yaml:"application"`
	Guilds      map[string]map[string]EmojiEntry `yaml:"guilds"`
}

// EmojiEntry describes one custom emoji.
type EmojiEntry struct {
	ID          string `yaml:"id"`
	Animated    bool   `yaml:"animated"`
	Description string `yaml:"description"`
}

// Default returns the configuration defaults applied before decoding.
func Default() *Config {
	return &Config{
		System: SystemConfig{
			Timezone: "Asia/Taipei",
			LogLevel: "info",
		},
		Agent: AgentConfig{
			Behavior: BehaviorConfig{
				MaxToolRounds:    1,
				TimeoutPerRound:  30,
				EnableReflection: true,
			},
			Tools: map[string]ToolConfig{},
		},
		LLM: LLMConfig{
			Models: map[string]llm.RoleConfig{
				string(llm.RolePlanner):       {Model: "gemini-2.0-flash-exp", Temperature: 0.1, MaxOutputTokens: 8192},
				string(llm.RoleFinalizer):     {Model: "gemini-2.0-flash-exp", Temperature: 0.7, MaxOutputTokens: 8192},
				string(llm.RoleReflector):     {Model: "gemini-2.0-flash-exp", Temperature: 0.3, MaxOutputTokens: 1024},
				string(llm.RoleProgressBlurb): {Model: "gemini-2.0-flash-exp", Temperature: 0.7, MaxOutputTokens: 20},
			},
		},
		Streaming: StreamingConfig{
			Enabled:          true,
			MinContentLength: 0,
		},
		Progress: ProgressConfig{
			Discord: ProgressTransportConfig{Enabled: true, UpdateInterval: 0.5, UseEmbeds: true, CleanupDelay: 30},
			CLI:     ProgressTransportConfig{Enabled: true, UpdateInterval: 0.1},
		},
		Reminder: ReminderConfig{
			Enabled:             true,
			PersistenceFile:     "data/events.json",
			MaxRemindersPerUser: 5,
		},
		Trend: TrendConfig{
			CooldownSeconds:     60,
			ReactionThreshold:   3,
			ContentThreshold:    3,
			EmojiThreshold:      3,
			MessageHistoryLimit: 10,
			BaseProbability:     0.5,
			BoostFactor:         0.15,
			MaxProbability:      0.95,
			EnableRandomDelay:   true,
			MinDelaySeconds:     0.5,
			MaxDelaySeconds:     3.0,
		},
		Discord: DiscordConfig{
			StatusMessage: "AI Assistant",
			Limits: LimitsConfig{
				MaxText:         100000,
				MaxImages:       3,
				MaxMessages:     25,
				MaxPromptTokens: 128000,
			},
			InputMedia: InputMediaConfig{MaxAnimatedFrames: 4},
			Maintenance: MaintenanceConfig{
				Message: "維護中，請稍後再試。",
			},
		},
		Prompt: PromptConfig{
			Persona: PersonaConfig{
				Enabled:          true,
				RandomSelection:  true,
				DefaultPersona:   "default",
				PersonaDirectory: "personas",
			},
		},
	}
}

// Load reads, decodes, and validates the configuration at path. Unknown
// keys are rejected.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates raw YAML configuration.
func Parse(data []byte) (*Config, error) {
	cfg := Default()

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints. An enabled tool whose
// credentials are missing is a configuration error, not a runtime one.
func (c *Config) Validate() error {
	if _, err := c.System.Location(); err != nil {
		return fmt.Errorf("%w: system.timezone: %v", ErrInvalid, err)
	}
	if c.Agent.Behavior.MaxToolRounds < 0 {
		return fmt.Errorf("%w: agent.behavior.max_tool_rounds must be >= 0", ErrInvalid)
	}
	if c.Agent.Behavior.TimeoutPerRound <= 0 {
		return fmt.Errorf("%w: agent.behavior.timeout_per_round must be > 0", ErrInvalid)
	}
	for _, role := range []string{"planner", "finalizer", "reflector", "progress_blurb"} {
		rc, ok := c.LLM.Models[role]
		if !ok {
			return fmt.Errorf("%w: llm.models.%s missing", ErrInvalid, role)
		}
		if rc.Model == "" {
			return fmt.Errorf("%w: llm.models.%s.model must be set", ErrInvalid, role)
		}
	}
	if anyLLMToolEnabled(c.Agent.Tools) && os.Getenv("GEMINI_API_KEY") == "" {
		return fmt.Errorf("%w: GEMINI_API_KEY required for enabled tools", ErrInvalid)
	}
	if c.Trend.Enabled {
		t := c.Trend
		if t.BaseProbability < 0 || t.BaseProbability > 1 || t.MaxProbability < 0 || t.MaxProbability > 1 {
			return fmt.Errorf("%w: trend_following probabilities must be in [0,1]", ErrInvalid)
		}
		if t.MinDelaySeconds > t.MaxDelaySeconds {
			return fmt.Errorf("%w: trend_following.min_delay_seconds exceeds max_delay_seconds", ErrInvalid)
		}
	}
	if c.Reminder.Enabled && c.Reminder.PersistenceFile == "" {
		return fmt.Errorf("%w: reminder.persistence_file must be set", ErrInvalid)
	}
	if c.Streaming.MinContentLength < 0 {
		return fmt.Errorf("%w: streaming.min_content_length must be >= 0", ErrInvalid)
	}
	return nil
}

func anyLLMToolEnabled(tools map[string]ToolConfig) bool {
	for _, t := range tools {
		if t.Enabled {
			return true
		}
	}
	return false
}
