// Package naming derives deterministic resource names so the worker's
// configuration defaults and the provisioning stack agree on queue,
// table, and topic names without coordination.
package naming

import (
	"regexp"
	"strings"
)

var (
	nonAlnum  = regexp.MustCompile(`[^a-z0-9-]+`)
	multiDash = regexp.MustCompile(`-+`)
)

func sanitizePart(value string) string {
	value = strings.ToLower(strings.TrimSpace(value))
	if value == "" {
		return ""
	}
	value = strings.ReplaceAll(value, "_", "-")
	value = strings.ReplaceAll(value, " ", "-")
	value = nonAlnum.ReplaceAllString(value, "-")
	value = multiDash.ReplaceAllString(value, "-")
	value = strings.Trim(value, "-")
	return value
}

// NormalizeStage maps stage aliases to canonical values.
func NormalizeStage(stage string) string {
	stage = strings.ToLower(strings.TrimSpace(stage))
	switch stage {
	case "prod", "production", "live":
		return "live"
	case "dev", "development":
		return "dev"
	case "stg", "stage", "staging":
		return "stage"
	case "test", "testing":
		return "test"
	case "local":
		return "local"
	default:
		return sanitizePart(stage)
	}
}

// BaseName returns a deterministic base name: <app>-<stage>.
func BaseName(appName, stage string) string {
	return join(sanitizePart(appName), "", NormalizeStage(stage))
}

// ResourceName returns a deterministic resource name: <app>-<resource>-<stage>.
func ResourceName(appName, resource, stage string) string {
	return join(sanitizePart(appName), sanitizePart(resource), NormalizeStage(stage))
}

func join(parts ...string) string {
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if part != "" {
			out = append(out, part)
		}
	}
	return strings.Join(out, "-")
}
