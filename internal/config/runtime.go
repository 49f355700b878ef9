package config

import (
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v2"
)

// RuntimeMode represents the execution environment
type RuntimeMode string

const (
	// DockerMode indicates running inside a container deployment
	DockerMode RuntimeMode = "docker"
	// NativeMode indicates running on the host system
	NativeMode RuntimeMode = "native"
)

// RuntimeConfig holds configuration for different runtime environments
type RuntimeConfig struct {
	Mode          RuntimeMode
	Port          int
	HomeDir       string
	StateDir      string // Session/workspace metadata and push subscriptions
	WorkspacesDir string // Default parent for registered workspaces
	VAPIDPublicKey  string
	VAPIDPrivateKey string
	PushSubscriber  string // Contact mailto: for VAPID
}

// fileConfig is the optional on-disk override, read from StateDir/config.yaml
type fileConfig struct {
	Port            int    `yaml:"port"`
	WorkspacesDir   string `yaml:"workspaces_dir"`
	VAPIDPublicKey  string `yaml:"vapid_public_key"`
	VAPIDPrivateKey string `yaml:"vapid_private_key"`
	PushSubscriber  string `yaml:"push_subscriber"`
}

var (
	// Runtime is the global runtime configuration instance
	Runtime *RuntimeConfig
)

func init() {
	Runtime = DetectRuntime()
}

// DetectRuntime determines the current runtime environment and returns appropriate configuration
func DetectRuntime() *RuntimeConfig {
	mode := NativeMode
	if os.Getenv("DOCKER_MODE") != "" {
		mode = DockerMode
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		homeDir = os.Getenv("HOME")
		if homeDir == "" {
			homeDir = "."
		}
	}

	stateDir := os.Getenv("AGENTDECK_STATE_DIR")
	if stateDir == "" {
		stateDir = filepath.Join(homeDir, ".agentdeck")
	}

	config := &RuntimeConfig{
		Mode:           mode,
		Port:           8181,
		HomeDir:        homeDir,
		StateDir:       stateDir,
		WorkspacesDir:  filepath.Join(homeDir, "workspaces"),
		PushSubscriber: "mailto:admin@localhost",
	}

	config.applyFile(filepath.Join(stateDir, "config.yaml"))
	config.applyEnv()

	return config
}

// applyFile layers the optional YAML config file over the defaults
func (c *RuntimeConfig) applyFile(path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		return
	}
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return
	}
	if fc.Port != 0 {
		c.Port = fc.Port
	}
	if fc.WorkspacesDir != "" {
		c.WorkspacesDir = fc.WorkspacesDir
	}
	if fc.VAPIDPublicKey != "" {
		c.VAPIDPublicKey = fc.VAPIDPublicKey
	}
	if fc.VAPIDPrivateKey != "" {
		c.VAPIDPrivateKey = fc.VAPIDPrivateKey
	}
	if fc.PushSubscriber != "" {
		c.PushSubscriber = fc.PushSubscriber
	}
}

// applyEnv layers environment variables over file and defaults; env wins
func (c *RuntimeConfig) applyEnv() {
	if port := os.Getenv("AGENTDECK_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil && p > 0 {
			c.Port = p
		}
	}
	if dir := os.Getenv("AGENTDECK_WORKSPACES_DIR"); dir != "" {
		c.WorkspacesDir = dir
	}
	if key := os.Getenv("VAPID_PUBLIC_KEY"); key != "" {
		c.VAPIDPublicKey = key
	}
	if key := os.Getenv("VAPID_PRIVATE_KEY"); key != "" {
		c.VAPIDPrivateKey = key
	}
	if sub := os.Getenv("PUSH_SUBSCRIBER"); sub != "" {
		c.PushSubscriber = sub
	}
}

// IsDockerized reports whether the agent CLIs should run with their
// skip-permissions flags enabled.
func (c *RuntimeConfig) IsDockerized() bool {
	return c.Mode == DockerMode
}
