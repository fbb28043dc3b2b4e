package setup

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/WhyShailesh/whisper-rooms/internal/config"
)

const (
	defaultConfigPath = "/etc/whisper-rooms/config.yaml"
	defaultListenPort = "8080"
	defaultHealthPort = "8081"
)

// WizardOptions configures the setup wizard.
type WizardOptions struct {
	ConfigPath string // Override default config path
}

// RunWizard runs the interactive setup wizard.
// It takes io.Reader/io.Writer for testability.
func RunWizard(in io.Reader, out io.Writer, opts WizardOptions) error {
	scanner := bufio.NewScanner(in)
	configPath := opts.ConfigPath
	if configPath == "" {
		configPath = defaultConfigPath
	}

	// Check if running as root; fall back to local config if not
	isRoot := os.Geteuid() == 0
	if !isRoot && configPath == defaultConfigPath {
		configPath = "./config.yaml"
		fmt.Fprintf(out, "NOTE: Not running as root. Config will be written to %s\n", configPath)
		fmt.Fprintf(out, "      Run with sudo for system-wide install: sudo whisper-rooms setup\n\n")
	}

	fmt.Fprintln(out, "whisper-rooms Setup")
	fmt.Fprintln(out, "===================")
	fmt.Fprintln(out)

	// Step 1: Listen address
	listenHost := prompt(scanner, out, "Listen host [0.0.0.0]: ", "0.0.0.0")
	listenPort := promptPort(scanner, out,
		fmt.Sprintf("Listen port [%s]: ", defaultListenPort), defaultListenPort)
	listenAddress := net.JoinHostPort(listenHost, listenPort)

	if reason := checkPortAvailable(listenHost, listenPort); reason != "" {
		fmt.Fprintf(out, "  WARNING: Port %s on %s %s\n\n", listenPort, listenHost, reason)
	}

	// Step 2: Health/admin port (always loopback)
	healthPort := promptPort(scanner, out,
		fmt.Sprintf("Health/admin port [%s]: ", defaultHealthPort), defaultHealthPort)
	healthAddress := net.JoinHostPort("127.0.0.1", healthPort)

	if reason := checkPortAvailable("127.0.0.1", healthPort); reason != "" {
		fmt.Fprintf(out, "  WARNING: Port %s on 127.0.0.1 %s\n\n", healthPort, reason)
	}

	// Step 3: Auth token (optional)
	authToken := prompt(scanner, out, "Auth token (leave empty for none): ", "")

	// Step 4: Room limits (optional)
	maxMembers := promptInt(scanner, out, "Max members per room (0 = unlimited) [0]: ", 0)

	// Step 5: Check for existing config
	if _, err := os.Stat(configPath); err == nil {
		overwrite := prompt(scanner, out,
			fmt.Sprintf("Config already exists at %s. Overwrite? [y/N]: ", configPath), "n")
		if !strings.HasPrefix(strings.ToLower(overwrite), "y") {
			fmt.Fprintln(out, "Setup cancelled.")
			return nil
		}
	}

	// Step 6: Write config
	fmt.Fprintf(out, "\nWriting config to %s...\n", configPath)
	content := generateConfig(listenAddress, healthAddress, authToken, maxMembers)
	if err := writeConfig(configPath, content); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	fmt.Fprintln(out, "  Config written successfully.")

	// Step 7: Validate the written config
	fmt.Fprintln(out, "  Validating config...")
	if _, err := config.Load(configPath); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	fmt.Fprintln(out, "  Config is valid.")

	// Step 8: Print summary
	fmt.Fprintln(out)
	fmt.Fprintln(out, "Setup complete!")
	fmt.Fprintln(out, "===============")
	fmt.Fprintln(out)
	fmt.Fprintf(out, "  Config:  %s\n", configPath)
	fmt.Fprintf(out, "  Relay:   ws://%s\n", listenAddress)
	fmt.Fprintf(out, "  Health:  http://%s/health\n", healthAddress)
	fmt.Fprintln(out)
	fmt.Fprintln(out, "Useful commands:")
	fmt.Fprintf(out, "  Check health:   curl http://%s/health\n", healthAddress)
	fmt.Fprintln(out, "  View logs:      sudo journalctl -u whisper-rooms -f")
	fmt.Fprintln(out, "  Validate:       whisper-rooms validate --config "+configPath)

	return nil
}

// prompt displays a message and reads a line from the scanner.
// Returns defaultVal if input is empty or EOF.
func prompt(scanner *bufio.Scanner, out io.Writer, message, defaultVal string) string {
	fmt.Fprint(out, message)
	if scanner.Scan() {
		input := strings.TrimSpace(scanner.Text())
		if input != "" {
			return input
		}
	}
	return defaultVal
}

// validatePort checks that a port string is a valid TCP port (1-65535).
func validatePort(port string) bool {
	n, err := strconv.Atoi(port)
	if err != nil {
		return false
	}
	return n >= 1 && n <= 65535
}

// promptPort prompts for a port, re-prompting on invalid input.
// Returns defaultVal on empty/EOF input.
func promptPort(scanner *bufio.Scanner, out io.Writer, message, defaultVal string) string {
	val := prompt(scanner, out, message, defaultVal)
	for !validatePort(val) {
		fmt.Fprintf(out, "  Invalid port %q: must be a number between 1 and 65535\n", val)
		val = prompt(scanner, out, message, defaultVal)
		if val == defaultVal {
			return defaultVal
		}
	}
	return val
}

// promptInt prompts for a non-negative integer, falling back on bad input.
func promptInt(scanner *bufio.Scanner, out io.Writer, message string, defaultVal int) int {
	val := prompt(scanner, out, message, strconv.Itoa(defaultVal))
	n, err := strconv.Atoi(val)
	if err != nil || n < 0 {
		fmt.Fprintf(out, "  Invalid value %q, using %d\n", val, defaultVal)
		return defaultVal
	}
	return n
}

// checkPortAvailable checks if a TCP port is free on the given host.
// Returns empty string if available, or a reason string if not.
func checkPortAvailable(host, port string) string {
	ln, err := net.Listen("tcp", net.JoinHostPort(host, port))
	if err != nil {
		if errors.Is(err, syscall.EACCES) {
			return "permission denied (try sudo or a port >= 1024)"
		}
		return "appears to be in use"
	}
	ln.Close()
	return ""
}

// yamlEscapeString escapes a string for use inside YAML double quotes.
func yamlEscapeString(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `"`, `\"`)
	return s
}

// generateConfig creates a commented YAML config string.
func generateConfig(listenAddress, healthAddress, authToken string, maxMembers int) string {
	authTokenLine := `  auth_token: ""`
	if authToken != "" {
		authTokenLine = fmt.Sprintf(`  auth_token: "%s"`, yamlEscapeString(authToken))
	}

	return fmt.Sprintf(`# whisper-rooms Configuration
# Generated by: whisper-rooms setup

server:
  # REQUIRED: WebSocket listen address
  listen_address: "%s"

  # WebSocket settings
  max_message_size: 65536  # 64KB
  ping_interval: "30s"
  pong_timeout: "10s"
  write_timeout: "10s"

  # Shutdown: wait for active connections to finish
  drain_timeout: "30s"

  # Origins allowed to connect from browsers; "*" disables the check
  allowed_origins: ["*"]

rooms:
  code_length: 6
  max_members: %d  # 0 = unlimited
  max_pending: 0   # 0 = unlimited

security:
  # Transport auth token (optional). Authenticates the client app, not
  # chat identities. Clients send Authorization: Bearer <token> or ?token=
%s

  # Rate limiting
  rate_limit:
    enabled: true
    connections_per_minute: 60
    messages_per_second: 50

  # Connection limits
  max_connections: 10000
  max_connections_per_ip: 32

logging:
  level: "info"
  format: "json"
  file: ""  # Empty = stdout (journald captures this)

health:
  enabled: true
  endpoint: "/health"
  listen_address: "%s"

monitoring:
  metrics_enabled: false
  metrics_endpoint: "/metrics"
`, yamlEscapeString(listenAddress), maxMembers, authTokenLine, yamlEscapeString(healthAddress))
}

// writeConfig writes the config file, creating parent directories as needed.
func writeConfig(path, content string) error {
	path = filepath.Clean(path)

	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating config directory %s: %w", dir, err)
		}
	}

	if err := os.WriteFile(path, []byte(content), 0o640); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}
