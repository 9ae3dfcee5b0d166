package config

import (
	"fmt"
	"path/filepath"
	"sync"

	"github.com/ZacxDev/assetooni/logger"
	"github.com/ZacxDev/assetooni/target"
	"github.com/go-viper/mapstructure/v2"
	"github.com/pkg/errors"
	"go.starlark.net/starlark"
)

// DefaultFile is the config file looked up in the working directory.
const DefaultFile = "assetooni.star"

// DefaultTask runs when no task is named.
const DefaultTask = "default"

// ModuleCache is used to store loaded Starlark modules
type ModuleCache struct {
	modules map[string]*cacheEntry
	mutex   sync.RWMutex
}

type cacheEntry struct {
	globals starlark.StringDict
	err     error
}

// NewModuleCache creates a new ModuleCache
func NewModuleCache() *ModuleCache {
	return &ModuleCache{
		modules: make(map[string]*cacheEntry),
	}
}

// Get retrieves a module from the cache. A nil entry marks a module that is
// still loading.
func (mc *ModuleCache) Get(key string) (*cacheEntry, bool) {
	mc.mutex.RLock()
	defer mc.mutex.RUnlock()
	module, ok := mc.modules[key]
	return module, ok
}

// Set stores a module in the cache
func (mc *ModuleCache) Set(key string, entry *cacheEntry) {
	mc.mutex.Lock()
	defer mc.mutex.Unlock()
	mc.modules[key] = entry
}

// LoadModule is a custom load function for Starlark that implements caching.
// Module paths are relative to the file doing the load.
func LoadModule(thread *starlark.Thread, module string) (starlark.StringDict, error) {
	cache := thread.Local("moduleCache").(*ModuleCache)

	filename := module
	if !filepath.IsAbs(filename) {
		filename = filepath.Join(filepath.Dir(thread.Name), filename)
	}

	if entry, ok := cache.Get(filename); ok {
		if entry == nil {
			return nil, fmt.Errorf("cycle in load graph at %s", module)
		}
		return entry.globals, entry.err
	}

	cache.Set(filename, nil)
	globals, err := starlark.ExecFile(newThread(filename, cache), filename, nil, Builtins())
	cache.Set(filename, &cacheEntry{globals: globals, err: err})

	return globals, err
}

func newThread(filename string, cache *ModuleCache) *starlark.Thread {
	thread := &starlark.Thread{
		Name: filename,
		Load: LoadModule,
		Print: func(_ *starlark.Thread, msg string) {
			logger.Debug(msg, "config", filename)
		},
	}
	thread.SetLocal("moduleCache", cache)
	return thread
}

// Load executes a config file and reads its project description from the
// globals `config`, `watch`, `server` and optionally `default`.
func Load(filename string) (*target.Project, error) {
	return LoadSource(filename, nil)
}

// LoadSource is Load with the file contents supplied by the caller. A nil
// src reads filename from disk.
func LoadSource(filename string, src any) (*target.Project, error) {
	cache := NewModuleCache()
	globals, err := starlark.ExecFile(newThread(filename, cache), filename, src, Builtins())
	if err != nil {
		return nil, errors.Wrap(err, "failed to execute Starlark script")
	}

	project := &target.Project{
		Tasks:   make(map[string]*target.Definition),
		Server:  target.DefaultServerSettings(),
		Default: DefaultTask,
	}

	configValue, ok := globals["config"]
	if !ok {
		return nil, errors.New("global 'config' object not found in Starlark config")
	}
	configDict, ok := configValue.(*starlark.Dict)
	if !ok {
		return nil, errors.New("global 'config' object is not a dictionary")
	}

	for _, item := range configDict.Items() {
		key, ok := item.Index(0).(starlark.String)
		if !ok {
			return nil, errors.Errorf("task names must be strings, got %s", item.Index(0).Type())
		}
		name := key.GoString()
		if name == target.ActionReload || name == target.ActionInject {
			return nil, errors.Errorf("task name %q is reserved for watch actions", name)
		}

		dict, ok := item.Index(1).(*starlark.Dict)
		if !ok {
			return nil, errors.Errorf("task %s: expected a dictionary, got %s", name, item.Index(1).Type())
		}
		def, err := parseTarget(name, dict)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to parse task %s", name)
		}
		project.Tasks[name] = def
	}

	if v, ok := globals["watch"]; ok {
		bindings, err := parseWatch(v)
		if err != nil {
			return nil, errors.Wrap(err, "failed to parse watch bindings")
		}
		project.Watch = bindings
	}

	if v, ok := globals["server"]; ok {
		if err := parseServer(v, &project.Server); err != nil {
			return nil, errors.Wrap(err, "failed to parse server settings")
		}
	}

	if v, ok := globals["default"]; ok {
		s, ok := v.(starlark.String)
		if !ok {
			return nil, errors.Errorf("global 'default' must be a task name, got %s", v.Type())
		}
		project.Default = s.GoString()
	}

	return project, nil
}

func parseTarget(name string, dict *starlark.Dict) (*target.Definition, error) {
	def := &target.Definition{Name: name}

	for _, kind := range []target.Kind{target.KindSeries, target.KindParallel, target.KindClean} {
		list, ok, err := getStringList(dict, string(kind))
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		def.Kind = kind
		if kind == target.KindClean {
			def.Paths = list
		} else {
			def.Children = list
		}
		return def, nil
	}

	def.Kind = target.KindPipeline

	if src, ok, err := getStringOrList(dict, "src"); err != nil {
		return nil, err
	} else if ok {
		def.Sources = src
	} else {
		return nil, errors.New("pipeline needs src")
	}

	if base, ok, err := getStringValue(dict, "base"); err != nil {
		return nil, err
	} else if ok {
		def.Base = base
	}

	if reload, ok, err := getStringValue(dict, "reload"); err != nil {
		return nil, err
	} else if ok {
		switch reload {
		case target.ReloadNone, target.ReloadFull, target.ReloadInject:
		default:
			return nil, errors.Errorf("reload must be %q or %q, got %q", target.ReloadFull, target.ReloadInject, reload)
		}
		def.Reload = reload
	}

	if allow, ok, err := getBooleanValue(dict, "allow_failure"); err != nil {
		return nil, err
	} else if ok {
		def.AllowFailure = allow
	}

	steps, err := getSteps(dict, "steps")
	if err != nil {
		return nil, err
	}
	def.Steps = steps

	return def, nil
}

// getSteps reads a list whose items are step dicts or bare transform names.
func getSteps(dict *starlark.Dict, key string) ([]target.Step, error) {
	value, found, err := dict.Get(starlark.String(key))
	if err != nil || !found {
		return nil, err
	}

	list, ok := value.(*starlark.List)
	if !ok {
		return nil, fmt.Errorf("expected list for key %s, got %T", key, value)
	}

	steps := make([]target.Step, 0, list.Len())
	for i := 0; i < list.Len(); i++ {
		switch v := list.Index(i).(type) {
		case starlark.String:
			steps = append(steps, target.Step{Transform: v.GoString()})
		case *starlark.Dict:
			step, err := parseStep(v)
			if err != nil {
				return nil, errors.Wrapf(err, "step %d", i+1)
			}
			steps = append(steps, step)
		default:
			return nil, fmt.Errorf("step %d: expected a step or a transform name, got %s", i+1, v.Type())
		}
	}
	return steps, nil
}

func parseStep(dict *starlark.Dict) (target.Step, error) {
	var step target.Step

	if d, ok, err := getStringValue(dict, "dest"); err != nil {
		return step, err
	} else if ok {
		if d == "" {
			return step, errors.New("dest must not be empty")
		}
		step.Dest = d
		return step, nil
	}

	name, ok, err := getStringValue(dict, "transform")
	if err != nil {
		return step, err
	}
	if !ok || name == "" {
		return step, errors.New("step needs a transform or a dest")
	}
	step.Transform = name

	if v, found, err := dict.Get(starlark.String("options")); err != nil {
		return step, err
	} else if found {
		d, ok := v.(*starlark.Dict)
		if !ok {
			return step, fmt.Errorf("expected dictionary for options, got %s", v.Type())
		}
		opts, err := dictToGo(d)
		if err != nil {
			return step, errors.Wrap(err, "options")
		}
		step.Options = opts
	}
	return step, nil
}

// parseWatch accepts {pattern: action} or {pattern: [actions]}. Dict order
// is kept.
func parseWatch(v starlark.Value) ([]target.WatchBinding, error) {
	dict, ok := v.(*starlark.Dict)
	if !ok {
		return nil, fmt.Errorf("expected dictionary, got %s", v.Type())
	}

	var bindings []target.WatchBinding
	for _, item := range dict.Items() {
		pattern, ok := item.Index(0).(starlark.String)
		if !ok {
			return nil, fmt.Errorf("watch patterns must be strings, got %s", item.Index(0).Type())
		}
		actions, err := stringOrList(item.Index(1))
		if err != nil {
			return nil, errors.Wrapf(err, "pattern %s", pattern.GoString())
		}
		for _, action := range actions {
			bindings = append(bindings, target.WatchBinding{Pattern: pattern.GoString(), Action: action})
		}
	}
	return bindings, nil
}

func parseServer(v starlark.Value, settings *target.ServerSettings) error {
	dict, ok := v.(*starlark.Dict)
	if !ok {
		return fmt.Errorf("expected dictionary, got %s", v.Type())
	}
	raw, err := dictToGo(dict)
	if err != nil {
		return err
	}
	// browser-sync spelling
	if baseDir, ok := raw["base_dir"]; ok {
		raw["root"] = baseDir
		delete(raw, "base_dir")
	}

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           settings,
		TagName:          "mapstructure",
		WeaklyTypedInput: true,
	})
	if err != nil {
		return errors.WithStack(err)
	}
	return errors.WithStack(decoder.Decode(raw))
}

func getBooleanValue(dict *starlark.Dict, key string) (bool, bool, error) {
	value, found, err := dict.Get(starlark.String(key))
	if err != nil || !found {
		return false, false, err
	}

	boolValue, ok := value.(starlark.Bool)
	if !ok {
		return false, false, fmt.Errorf("expected bool for key %s, got %T", key, value)
	}

	return bool(boolValue), true, nil
}

func getStringValue(dict *starlark.Dict, key string) (string, bool, error) {
	value, found, err := dict.Get(starlark.String(key))
	if err != nil || !found {
		return "", false, err
	}

	strValue, ok := value.(starlark.String)
	if !ok {
		return "", false, fmt.Errorf("expected string for key %s, got %T", key, value)
	}

	return strValue.GoString(), true, nil
}

func getStringList(dict *starlark.Dict, key string) ([]string, bool, error) {
	value, found, err := dict.Get(starlark.String(key))
	if err != nil || !found {
		return nil, false, err
	}

	list, ok := value.(*starlark.List)
	if !ok {
		return nil, false, fmt.Errorf("expected list for key %s, got %T", key, value)
	}

	result, err := iterStrings(list, key)
	if err != nil {
		return nil, false, err
	}
	return result, true, nil
}

func getStringOrList(dict *starlark.Dict, key string) ([]string, bool, error) {
	value, found, err := dict.Get(starlark.String(key))
	if err != nil || !found {
		return nil, false, err
	}
	result, err := stringOrList(value)
	if err != nil {
		return nil, false, errors.Wrapf(err, "key %s", key)
	}
	return result, true, nil
}

func stringOrList(value starlark.Value) ([]string, error) {
	switch v := value.(type) {
	case starlark.String:
		return []string{v.GoString()}, nil
	case *starlark.List:
		return iterStrings(v, "list")
	case starlark.Tuple:
		return iterStrings(v, "tuple")
	default:
		return nil, fmt.Errorf("expected string or list, got %s", value.Type())
	}
}

func iterStrings(it starlark.Iterable, what string) ([]string, error) {
	var result []string
	iter := it.Iterate()
	defer iter.Done()
	var x starlark.Value
	for iter.Next(&x) {
		str, ok := x.(starlark.String)
		if !ok {
			return nil, fmt.Errorf("expected string in %s, got %T", what, x)
		}
		result = append(result, str.GoString())
	}
	return result, nil
}
