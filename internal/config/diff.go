package config

import "slices"

// ConfigDiff describes what changed between two configs. Only the log level
// and judge tuning can be applied without restart; the remaining flags exist
// so the server can tell the operator a restart is needed.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	JudgeChanged bool
	NewJudge     JudgeConfig

	// ProvidersChanged covers provider declarations and context preference
	// lists. Both are resolved once at startup and require a restart.
	ProvidersChanged bool

	// LimitsChanged covers session caps, which are fixed per running server.
	LimitsChanged bool

	// ScenariosChanged reports a different scenario file path.
	ScenariosChanged bool
}

// HotApplicable reports whether the diff contains any change the server can
// apply without restarting.
func (d ConfigDiff) HotApplicable() bool {
	return d.LogLevelChanged || d.JudgeChanged
}

// RestartRequired reports whether the diff contains changes that only take
// effect after a restart.
func (d ConfigDiff) RestartRequired() bool {
	return d.ProvidersChanged || d.LimitsChanged || d.ScenariosChanged
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if !judgeEqual(old.Judge, new.Judge) {
		d.JudgeChanged = true
		d.NewJudge = new.Judge
	}

	if !slices.Equal(old.Providers, new.Providers) ||
		!slices.Equal(old.Contexts.Streaming, new.Contexts.Streaming) ||
		!slices.Equal(old.Contexts.SingleShot, new.Contexts.SingleShot) {
		d.ProvidersChanged = true
	}

	if old.Limits != new.Limits {
		d.LimitsChanged = true
	}

	if old.Scenarios.Path != new.Scenarios.Path {
		d.ScenariosChanged = true
	}

	return d
}

func judgeEqual(a, b JudgeConfig) bool {
	if a.DefaultFocus != b.DefaultFocus {
		return false
	}
	if (a.Evaluator == nil) != (b.Evaluator == nil) {
		return false
	}
	if a.Evaluator != nil && *a.Evaluator != *b.Evaluator {
		return false
	}
	return true
}
