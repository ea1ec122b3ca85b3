package process

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ProcessConfig binds an external command to the service task activity of a
// process definition.
type ProcessConfig struct {
	Process     string            `yaml:"process" json:"process"`
	Activity    string            `yaml:"activity" json:"activity"`
	Command     string            `yaml:"command" json:"command"`
	Args        []string          `yaml:"args" json:"args"`
	Environment map[string]string `yaml:"env" json:"env"`
	Description string            `yaml:"description" json:"description"`

	// ResultVariable receives stdout when it is not a JSON object.
	ResultVariable string        `yaml:"result_variable" json:"result_variable"`
	Timeout        time.Duration `yaml:"timeout" json:"timeout"`
}

// Key identifies the service task the command is bound to.
func (c ProcessConfig) Key() string {
	return c.Process + "/" + c.Activity
}

// ConfigFile represents the structure of tasks.yaml
type ConfigFile struct {
	Tasks []ProcessConfig `yaml:"tasks" json:"tasks"`
}

// LoadTasks reads a configuration file (YAML or JSON) and returns the
// bindings keyed by "process/activity".
func LoadTasks(path string) (map[string]ProcessConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read tasks config: %w", err)
	}

	var cfg ConfigFile
	if strings.ToLower(filepath.Ext(path)) == ".json" {
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
	} else {
		// Default to YAML
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
	}

	tasks := make(map[string]ProcessConfig, len(cfg.Tasks))
	for i, task := range cfg.Tasks {
		if task.Process == "" || task.Activity == "" || task.Command == "" {
			return nil, fmt.Errorf("%s: task %d needs process, activity and command", path, i)
		}
		if _, dup := tasks[task.Key()]; dup {
			return nil, fmt.Errorf("%s: %s is bound twice", path, task.Key())
		}
		tasks[task.Key()] = task
	}
	return tasks, nil
}
