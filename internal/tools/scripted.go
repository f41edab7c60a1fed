package tools

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/fsnotify/fsnotify"
	"github.com/rahul/autopilot/internal/capability"
	"gopkg.in/yaml.v3"
)

const (
	defaultScriptTimeout = 120
	reloadDebounce       = 300 * time.Millisecond
)

var scriptNameRe = regexp.MustCompile(`^[a-z][a-z0-9_]{1,47}$`)

// ScriptSpec is the YAML definition of a scripted capability. Params reach
// the command as environment variables named ARG_<NAME>.
type ScriptSpec struct {
	Name           string            `yaml:"name"`
	Version        string            `yaml:"version,omitempty"`
	Description    string            `yaml:"description"`
	Params         capability.Schema `yaml:"params,omitempty"`
	Command        string            `yaml:"command"`
	TimeoutSeconds int               `yaml:"timeout_seconds,omitempty"`
}

// Validate checks the fields a spec needs to be registered.
func (s ScriptSpec) Validate() error {
	if !scriptNameRe.MatchString(s.Name) {
		return fmt.Errorf("invalid capability name %q: use lower-case letters, digits and underscores", s.Name)
	}
	if strings.TrimSpace(s.Command) == "" {
		return fmt.Errorf("capability %s has no command", s.Name)
	}
	if s.Version != "" {
		if _, err := semver.NewVersion(s.Version); err != nil {
			return fmt.Errorf("capability %s has invalid version %q: %w", s.Name, s.Version, err)
		}
	}
	seen := make(map[string]bool, len(s.Params))
	for _, p := range s.Params {
		if p.Name == "" || seen[p.Name] {
			return fmt.Errorf("capability %s has an empty or duplicate parameter name", s.Name)
		}
		seen[p.Name] = true
	}
	return nil
}

// ScriptedCapability runs a spec's command through bash.
type ScriptedCapability struct {
	spec ScriptSpec
	dir  string
}

func (c *ScriptedCapability) Name() string              { return c.spec.Name }
func (c *ScriptedCapability) Description() string       { return c.spec.Description }
func (c *ScriptedCapability) Schema() capability.Schema { return c.spec.Params }
func (c *ScriptedCapability) Version() string           { return c.spec.Version }

func (c *ScriptedCapability) Invoke(ctx context.Context, params map[string]any) (capability.Result, error) {
	timeout := c.spec.TimeoutSeconds
	if timeout <= 0 {
		timeout = defaultScriptTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, time.Duration(timeout)*time.Second)
	defer cancel()

	cmd := exec.CommandContext(ctx, "bash", "-c", c.spec.Command)
	cmd.Dir = c.dir
	cmd.Env = os.Environ()
	for _, p := range c.spec.Params {
		cmd.Env = append(cmd.Env, "ARG_"+strings.ToUpper(p.Name)+"="+capability.StringParam(params, p.Name))
	}

	output, err := cmd.CombinedOutput()
	result := strings.TrimSpace(string(output))
	if len(result) > maxShellOutput {
		result = result[:maxShellOutput] + "\n... (output truncated) ..."
	}
	if err != nil {
		return capability.Result{}, fmt.Errorf("%s failed: %v\nOutput: %s", c.spec.Name, err, result)
	}
	if result == "" {
		result = "(no output)"
	}
	return text(result), nil
}

// ScriptLoader keeps the registry in step with the spec files in Dir.
type ScriptLoader struct {
	Dir      string
	Workdir  string
	registry *capability.Registry

	mu    sync.Mutex
	owned map[string]string // capability name -> spec file
}

func NewScriptLoader(dir, workdir string, reg *capability.Registry) *ScriptLoader {
	return &ScriptLoader{Dir: dir, Workdir: workdir, registry: reg, owned: make(map[string]string)}
}

// Load parses every *.yaml and *.yml file in Dir, registers the valid ones
// and unregisters scripted capabilities whose file is gone. It returns the
// number of capabilities registered.
func (l *ScriptLoader) Load() (int, error) {
	if err := os.MkdirAll(l.Dir, 0755); err != nil {
		return 0, fmt.Errorf("failed to create capability directory: %w", err)
	}
	entries, err := os.ReadDir(l.Dir)
	if err != nil {
		return 0, fmt.Errorf("failed to read capability directory: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	found := make(map[string]string)
	var files []string
	for _, e := range entries {
		if e.IsDir() || !isSpecFile(e.Name()) {
			continue
		}
		files = append(files, filepath.Join(l.Dir, e.Name()))
	}
	sort.Strings(files)

	for _, path := range files {
		spec, err := readSpec(path)
		if err != nil {
			log.Printf("[Scripts] Skipping %s: %v", filepath.Base(path), err)
			continue
		}
		if prev, dup := found[spec.Name]; dup {
			log.Printf("[Scripts] Skipping %s: %s already defined in %s", filepath.Base(path), spec.Name, filepath.Base(prev))
			continue
		}
		if _, ours := l.owned[spec.Name]; !ours {
			if _, err := l.registry.Resolve(spec.Name); err == nil {
				log.Printf("[Scripts] Skipping %s: %s is a built-in capability", filepath.Base(path), spec.Name)
				continue
			}
		}
		l.warnDowngrade(spec)
		l.registry.Register(&ScriptedCapability{spec: spec, dir: l.Workdir})
		found[spec.Name] = path
	}

	for name := range l.owned {
		if _, still := found[name]; !still {
			l.registry.Unregister(name)
			log.Printf("[Scripts] Removed %s", name)
		}
	}
	l.owned = found
	return len(found), nil
}

// Refresh reloads the directory. It matches the engine's refresh hook.
func (l *ScriptLoader) Refresh(ctx context.Context) error {
	n, err := l.Load()
	if err != nil {
		return err
	}
	log.Printf("[Scripts] %d scripted capabilities loaded", n)
	return nil
}

func (l *ScriptLoader) warnDowngrade(spec ScriptSpec) {
	if spec.Version == "" {
		return
	}
	current, err := l.registry.Resolve(spec.Name)
	if err != nil || current.Version == "" {
		return
	}
	oldV, err1 := semver.NewVersion(current.Version)
	newV, err2 := semver.NewVersion(spec.Version)
	if err1 != nil || err2 != nil {
		return
	}
	if oldV.GreaterThan(newV) {
		log.Printf("[Scripts] Warning: %s downgraded from %s to %s", spec.Name, oldV, newV)
	}
}

// Install writes spec to Dir and reloads.
func (l *ScriptLoader) Install(spec ScriptSpec) (string, error) {
	if err := spec.Validate(); err != nil {
		return "", err
	}
	l.mu.Lock()
	_, ours := l.owned[spec.Name]
	l.mu.Unlock()
	if !ours {
		if _, err := l.registry.Resolve(spec.Name); err == nil {
			return "", fmt.Errorf("%s is a built-in capability and cannot be replaced", spec.Name)
		}
	}

	data, err := yaml.Marshal(spec)
	if err != nil {
		return "", fmt.Errorf("failed to encode capability: %w", err)
	}
	if err := os.MkdirAll(l.Dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create capability directory: %w", err)
	}
	path := filepath.Join(l.Dir, spec.Name+".yaml")
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write capability: %w", err)
	}
	if _, err := l.Load(); err != nil {
		return "", err
	}
	return path, nil
}

// Watch reloads Dir whenever a spec file changes, until ctx is cancelled.
func (l *ScriptLoader) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	if err := os.MkdirAll(l.Dir, 0755); err != nil {
		return fmt.Errorf("failed to create capability directory: %w", err)
	}
	if err := watcher.Add(l.Dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", l.Dir, err)
	}
	log.Printf("[Scripts] Watching %s", l.Dir)

	// editors emit bursts of events per save
	var debounce <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if isSpecFile(event.Name) {
				debounce = time.After(reloadDebounce)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Printf("[Scripts] Watcher error: %v", err)
		case <-debounce:
			debounce = nil
			if err := l.Refresh(ctx); err != nil {
				log.Printf("[Scripts] Reload failed: %v", err)
			}
		}
	}
}

func readSpec(path string) (ScriptSpec, error) {
	var spec ScriptSpec
	data, err := os.ReadFile(path)
	if err != nil {
		return spec, err
	}
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return spec, fmt.Errorf("invalid YAML: %w", err)
	}
	return spec, spec.Validate()
}

func isSpecFile(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".yaml" || ext == ".yml"
}

// CreateCapabilityTool lets the agent extend its own capability set.
type CreateCapabilityTool struct {
	Loader *ScriptLoader
}

func NewCreateCapabilityTool(l *ScriptLoader) *CreateCapabilityTool {
	return &CreateCapabilityTool{Loader: l}
}

func (c *CreateCapabilityTool) Name() string {
	return "create_capability"
}

func (c *CreateCapabilityTool) Description() string {
	return "Create or update a scripted capability backed by a bash command. Parameters reach the command as environment variables ARG_<NAME>, e.g. $ARG_QUERY."
}

func (c *CreateCapabilityTool) Schema() capability.Schema {
	return capability.Schema{
		{Name: "name", Description: "lower_snake_case capability name", Required: true},
		{Name: "description", Description: "what the capability does", Required: true},
		{Name: "command", Description: "bash command to run", Required: true},
		{Name: "params", Description: "comma-separated parameter names, suffix ? for optional", Default: ""},
		{Name: "version", Description: "semantic version", Default: "0.1.0"},
	}
}

func (c *CreateCapabilityTool) Invoke(ctx context.Context, params map[string]any) (capability.Result, error) {
	spec := ScriptSpec{
		Name:        strings.TrimSpace(capability.StringParam(params, "name")),
		Description: strings.TrimSpace(capability.StringParam(params, "description")),
		Command:     capability.StringParam(params, "command"),
		Version:     strings.TrimSpace(capability.StringParam(params, "version")),
		Params:      parseParamList(capability.StringParam(params, "params")),
	}
	path, err := c.Loader.Install(spec)
	if err != nil {
		return capability.Result{}, err
	}
	return capability.Result{
		Text:      fmt.Sprintf("Installed capability %s (%s)", spec.Name, filepath.Base(path)),
		Installed: true,
	}, nil
}

// parseParamList turns "query, limit?" into a schema. Optional params
// default to "".
func parseParamList(list string) capability.Schema {
	var schema capability.Schema
	for _, raw := range strings.Split(list, ",") {
		name := strings.TrimSpace(raw)
		if name == "" {
			continue
		}
		p := capability.Param{Name: strings.TrimSuffix(name, "?"), Required: true}
		if strings.HasSuffix(name, "?") {
			p.Required = false
			p.Default = ""
		}
		schema = append(schema, p)
	}
	return schema
}
