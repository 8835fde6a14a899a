package controlid

import (
	"strings"

	"tlcopt/internal/model"
)

// Normalize canonicalizes controller kind names and script-style aliases.
// Unknown names are returned in normalized form so callers can report them.
func Normalize(name string) string {
	normalized := strings.TrimSpace(strings.ToLower(name))
	normalized = strings.ReplaceAll(normalized, "_", "-")
	normalized = strings.ReplaceAll(normalized, " ", "-")
	normalized = strings.Trim(normalized, "-")
	if normalized == "" {
		return ""
	}
	if canonical, ok := normalizeKnownAlias(normalized); ok {
		return canonical
	}
	return normalized
}

// Parse returns the controller kind for name or false when it is unknown.
func Parse(name string) (model.ControllerKind, bool) {
	switch Normalize(name) {
	case string(model.ControllerFixedTime):
		return model.ControllerFixedTime, true
	case string(model.ControllerActuated):
		return model.ControllerActuated, true
	case string(model.ControllerExternal):
		return model.ControllerExternal, true
	default:
		return "", false
	}
}

func normalizeKnownAlias(normalized string) (string, bool) {
	for _, candidate := range aliasCandidates(normalized) {
		if canonical, ok := canonicalKind(candidate); ok {
			return canonical, true
		}
	}
	return "", false
}

func aliasCandidates(normalized string) []string {
	candidate := strings.TrimPrefix(normalized, "opt-")
	candidate = strings.Trim(candidate, "-")

	candidates := []string{normalized}
	if candidate != "" && candidate != normalized {
		candidates = append(candidates, candidate)
	}

	trimmedCandidate := trimVersionSuffix(candidate)
	if trimmedCandidate != "" && trimmedCandidate != candidate {
		candidates = append(candidates, trimmedCandidate)
	}
	return candidates
}

// trimVersionSuffix drops the simulator major version some script names
// carry, e.g. "internal-ftc8".
func trimVersionSuffix(value string) string {
	trimmed := strings.TrimRight(value, "0123456789")
	trimmed = strings.TrimRight(trimmed, "-")
	if trimmed == "" {
		return value
	}
	return trimmed
}

func canonicalKind(alias string) (string, bool) {
	compact := strings.ReplaceAll(alias, "-", "")
	switch compact {
	case "fixedtime", "fixed", "ftc", "internalftc", "fixedcontrol":
		return string(model.ControllerFixedTime), true
	case "actuated", "nema", "internalnema", "actuatedcontrol":
		return string(model.ControllerActuated), true
	case "external", "externalftc", "api":
		return string(model.ControllerExternal), true
	default:
		return "", false
	}
}
