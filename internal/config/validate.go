package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate checks Config for production-critical problems.
// It collects all errors into a single joined error.
func (c *Config) Validate() error {
	var errs []string

	if c.Gemini.APIKey == "" {
		errs = append(errs, "GEMINI_API_KEY is required")
	}
	if c.Room.AgentPassword == "" {
		errs = append(errs, "ROOM_AGENT_PASSWORD is required")
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("SERVER_PORT must be 1-65535, got %d", c.Server.Port))
	}

	if c.Gateway.MaxInFlight < 1 {
		errs = append(errs, "GATEWAY_MAX_INFLIGHT must be at least 1")
	}

	if c.Context.TargetLength >= c.Context.MaxLength {
		errs = append(errs, fmt.Sprintf("CONTEXT_TARGET_LENGTH (%d) must be below CONTEXT_MAX_LENGTH (%d)",
			c.Context.TargetLength, c.Context.MaxLength))
	}
	if c.Context.MinRecentKeep >= c.Context.TargetLength {
		errs = append(errs, fmt.Sprintf("CONTEXT_MIN_RECENT_KEEP (%d) must be below CONTEXT_TARGET_LENGTH (%d)",
			c.Context.MinRecentKeep, c.Context.TargetLength))
	}

	if c.Turns.MaxResponders < 1 {
		errs = append(errs, "TURNS_MAX_RESPONDERS must be at least 1")
	}
	if c.Turns.QueueCeiling < c.Turns.MaxQueuedFollowUps {
		errs = append(errs, "TURNS_QUEUE_CEILING must not be below TURNS_MAX_QUEUED_FOLLOWUPS")
	}

	switch c.Transcript.Backend {
	case "file", "postgres":
	default:
		errs = append(errs, fmt.Sprintf("TRANSCRIPT_BACKEND must be 'file' or 'postgres', got %q", c.Transcript.Backend))
	}
	if c.Transcript.Backend == "postgres" && c.DB.Password == "" {
		errs = append(errs, "DB_PASSWORD is required when TRANSCRIPT_BACKEND is 'postgres'")
	}

	if len(errs) > 0 {
		return errors.New("config validation failed:\n  " + strings.Join(errs, "\n  "))
	}
	return nil
}
