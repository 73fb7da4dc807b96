package main

import (
	"log/slog"

	"github.com/vidmesh/vidmesh/internal/config"
)

func logStartupSecurityWarnings(logger *slog.Logger, cfg config.Config) {
	if logger == nil {
		logger = slog.Default()
	}

	if containsString(cfg.AllowedOrigins, "*") {
		logger.Warn("startup security warning: VIDMESH_ALLOWED_ORIGINS contains '*' (allows any origin)",
			"warning_code", "allowed_origins_wildcard",
			"allowed_origins", cfg.AllowedOrigins,
			"mode", cfg.Mode,
		)
	}

	if cfg.FrameEmbed == config.FrameEmbedAny {
		logger.Warn("startup security warning: VIDMESH_FRAME_EMBED=any allows embedding the frontend on any site (clickjacking risk)",
			"warning_code", "frame_embed_any",
			"frame_embed", cfg.FrameEmbed,
			"mode", cfg.Mode,
		)
	}

	if cfg.Mode == config.ModeProd && cfg.MaxMembersPerRoom <= 0 {
		logger.Warn("startup security warning: VIDMESH_MAX_MEMBERS_PER_ROOM is unset/0 (unlimited) while --mode=prod",
			"warning_code", "max_members_unlimited_in_prod",
			"max_members_per_room", cfg.MaxMembersPerRoom,
			"mode", cfg.Mode,
		)
	}

	if cfg.MaxSignalMessagesPerSec <= 0 {
		logger.Warn("startup security warning: signaling rate limit disabled",
			"warning_code", "signal_rate_limit_disabled",
			"max_signal_messages_per_sec", cfg.MaxSignalMessagesPerSec,
			"mode", cfg.Mode,
		)
	}
}

func containsString(xs []string, v string) bool {
	for _, s := range xs {
		if s == v {
			return true
		}
	}
	return false
}
