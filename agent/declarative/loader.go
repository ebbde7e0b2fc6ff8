package declarative

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/BaSui01/crewflow/types"
)

// CrewLoader loads crew definitions from files or raw bytes.
type CrewLoader interface {
	// LoadFiles reads agents and tasks files. Format is detected from the
	// extension (.yaml, .yml, .json).
	LoadFiles(agentsPath, tasksPath string) (*Definition, error)

	// LoadBytes parses agents and tasks documents in format "yaml" or "json".
	LoadBytes(agents, tasks []byte, format string) (*Definition, error)
}

// Loader implements CrewLoader for YAML and JSON.
type Loader struct {
	logger *zap.Logger
}

// NewLoader creates a Loader.
func NewLoader(logger *zap.Logger) *Loader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loader{logger: logger.With(zap.String("component", "declarative"))}
}

// LoadFiles reads agents.yaml and tasks.yaml style files.
func (l *Loader) LoadFiles(agentsPath, tasksPath string) (*Definition, error) {
	def := &Definition{}
	if err := l.decodeFile(agentsPath, "agents", &def.Agents); err != nil {
		return nil, err
	}
	if err := l.decodeFile(tasksPath, "tasks", &def.Tasks); err != nil {
		return nil, err
	}
	l.logger.Debug("crew definition loaded",
		zap.String("agents_file", agentsPath),
		zap.String("tasks_file", tasksPath),
		zap.Int("agents", len(def.Agents)),
		zap.Int("tasks", len(def.Tasks)),
	)
	return def, nil
}

// LoadDir loads agents.*, tasks.* and the optional crew.* from dir.
func (l *Loader) LoadDir(dir string) (*Definition, error) {
	agentsPath, ok := findFile(dir, "agents")
	if !ok {
		return nil, types.Errorf(types.ErrInvalidConfig, "no agents.yaml, agents.yml or agents.json in %s", dir)
	}
	tasksPath, ok := findFile(dir, "tasks")
	if !ok {
		return nil, types.Errorf(types.ErrInvalidConfig, "no tasks.yaml, tasks.yml or tasks.json in %s", dir)
	}
	def, err := l.LoadFiles(agentsPath, tasksPath)
	if err != nil {
		return nil, err
	}
	if crewPath, ok := findFile(dir, "crew"); ok {
		if err := l.decodeFile(crewPath, "crew", &def.Crew); err != nil {
			return nil, err
		}
	}
	return def, nil
}

// LoadBytes parses raw agents and tasks documents.
func (l *Loader) LoadBytes(agents, tasks []byte, format string) (*Definition, error) {
	def := &Definition{}
	if err := decode(agents, format, "agents", &def.Agents); err != nil {
		return nil, err
	}
	if err := decode(tasks, format, "tasks", &def.Tasks); err != nil {
		return nil, err
	}
	return def, nil
}

func (l *Loader) decodeFile(path, what string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return types.Errorf(types.ErrInvalidConfig, "read %s file", what).WithCause(err)
	}
	format := detectFormat(path)
	if format == "" {
		return types.Errorf(types.ErrInvalidConfig, "unsupported file extension: %s", filepath.Ext(path))
	}
	return decode(data, format, what, out)
}

// decode 统一用 yaml.v3 解码：JSON 是 YAML 的子集，且 yaml.Node 保留键顺序
func decode(data []byte, format, what string, out any) error {
	switch strings.ToLower(format) {
	case "yaml", "yml":
		if err := yaml.Unmarshal(data, out); err != nil {
			return types.Errorf(types.ErrInvalidConfig, "%s: parse YAML", what).WithCause(err)
		}
	case "json":
		var probe any
		if err := json.Unmarshal(data, &probe); err != nil {
			return types.Errorf(types.ErrInvalidConfig, "%s: parse JSON", what).WithCause(err)
		}
		if err := yaml.Unmarshal(data, out); err != nil {
			return types.Errorf(types.ErrInvalidConfig, "%s: parse JSON", what).WithCause(err)
		}
	default:
		return types.Errorf(types.ErrInvalidConfig, "unsupported format %q, use \"yaml\" or \"json\"", format)
	}
	return nil
}

func findFile(dir, base string) (string, bool) {
	for _, ext := range []string{".yaml", ".yml", ".json"} {
		path := filepath.Join(dir, base+ext)
		if st, err := os.Stat(path); err == nil && !st.IsDir() {
			return path, true
		}
	}
	return "", false
}

// detectFormat returns "yaml" or "json" based on file extension, or "" if unknown.
func detectFormat(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return "yaml"
	case ".json":
		return "json"
	default:
		return ""
	}
}
