package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"sort"
	"strings"
)

var commandContext = exec.CommandContext

// fallbackEndpoints is the fixed allow-list of read-only endpoints with a
// CLI equivalent. Job-style operations (mount, sync) require the rc channel
// and deliberately have no entry here.
var fallbackEndpoints = map[string]struct{}{
	"core/version":       {},
	"config/providers":   {},
	"config/dump":        {},
	"config/listremotes": {},
}

// CLI executes allow-listed endpoints by invoking the daemon binary
// synchronously in loopback mode.
type CLI struct {
	binary     string
	configPath string
}

// NewCLI constructs the command-line fallback executor.
func NewCLI(binary, configPath string) *CLI {
	return &CLI{binary: binary, configPath: configPath}
}

// Supports reports whether the endpoint has a CLI equivalent.
func (c *CLI) Supports(endpoint string) bool {
	_, ok := fallbackEndpoints[normalize(endpoint)]
	return ok
}

// Call runs the endpoint through `<binary> rc --loopback` and decodes the
// JSON output. Unsupported endpoints fail fast with ErrUnsupportedFallback.
func (c *CLI) Call(ctx context.Context, endpoint string, params map[string]any) (map[string]any, error) {
	normalized := normalize(endpoint)
	if !c.Supports(normalized) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFallback, normalized)
	}

	args := []string{"rc", "--loopback", normalized}
	if strings.TrimSpace(c.configPath) != "" {
		args = append(args, "--config", c.configPath)
	}
	for _, key := range sortedKeys(params) {
		args = append(args, fmt.Sprintf("%s=%v", key, params[key]))
	}

	cmd := commandContext(ctx, c.binary, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		detail := strings.TrimSpace(stderr.String())
		if detail != "" {
			return nil, fmt.Errorf("cli fallback %s: %w: %s", normalized, err, detail)
		}
		return nil, fmt.Errorf("cli fallback %s: %w", normalized, err)
	}

	result := map[string]any{}
	trimmed := bytes.TrimSpace(stdout.Bytes())
	if len(trimmed) > 0 {
		if err := json.Unmarshal(trimmed, &result); err != nil {
			return nil, fmt.Errorf("cli fallback %s: decode output: %w", normalized, err)
		}
	}
	return result, nil
}

func normalize(endpoint string) string {
	return strings.Trim(strings.TrimSpace(endpoint), "/")
}

func sortedKeys(params map[string]any) []string {
	keys := make([]string, 0, len(params))
	for key := range params {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
