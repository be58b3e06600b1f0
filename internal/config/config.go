package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// EnvPrefix 环境变量前缀，例如 AGENTRADE_ORACLE_API_KEY。
const EnvPrefix = "AGENTRADE"

// secretKeys 允许只通过环境变量提供的敏感字段。
var secretKeys = []string{
	"market.api_key",
	"market.secret_key",
	"oracle.api_key",
	"notify.telegram.bot_token",
	"notify.telegram.chat_id",
}

// Load 读取主配置（含 include 链），合并环境变量后应用默认值并校验。
func Load(path string) (*Config, error) {
	files, err := resolveConfigIncludes(path)
	if err != nil {
		return nil, err
	}
	v := newViper()
	for _, file := range files {
		if err := mergeConfigFile(v, file); err != nil {
			return nil, fmt.Errorf("reading config file failed (%s): %w", file, err)
		}
	}
	return decode(v)
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, key := range secretKeys {
		_ = v.BindEnv(key)
	}
	return v
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg, func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "toml"
		dc.WeaklyTypedInput = true
	}); err != nil {
		return nil, fmt.Errorf("parsing config failed: %w", err)
	}
	setKeys := make(keySet)
	collectSettingsKeys(v.AllSettings(), setKeys)
	cfg.applyDefaults(setKeys)
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func mergeConfigFile(v *viper.Viper, path string) error {
	tmp := viper.New()
	tmp.SetConfigFile(path)
	if err := tmp.ReadInConfig(); err != nil {
		return err
	}
	settings := tmp.AllSettings()
	delete(settings, "include")
	return v.MergeConfigMap(settings)
}

func resolveConfigIncludes(path string) ([]string, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("config path cannot be empty")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	var ordered []string
	if err := walkIncludes(abs, map[string]bool{}, map[string]bool{}, &ordered); err != nil {
		return nil, err
	}
	return ordered, nil
}

// walkIncludes 深度优先展开 include，被包含文件先于包含者合并。
func walkIncludes(path string, seen, stack map[string]bool, ordered *[]string) error {
	path = filepath.Clean(path)
	if stack[path] {
		return fmt.Errorf("include cycle detected: %s", path)
	}
	if seen[path] {
		return nil
	}
	stack[path] = true
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("parsing include failed (%s): %w", path, err)
	}
	includes, err := toStringList(v.Get("include"))
	if err != nil {
		return fmt.Errorf("parsing include failed (%s): %w", path, err)
	}
	for _, inc := range includes {
		if !filepath.IsAbs(inc) {
			inc = filepath.Join(filepath.Dir(path), inc)
		}
		if err := walkIncludes(inc, seen, stack, ordered); err != nil {
			return err
		}
	}
	delete(stack, path)
	seen[path] = true
	*ordered = append(*ordered, path)
	return nil
}

func toStringList(raw any) ([]string, error) {
	switch val := raw.(type) {
	case nil:
		return nil, nil
	case string:
		if s := strings.TrimSpace(val); s != "" {
			return []string{s}, nil
		}
		return nil, nil
	case []string:
		return trimNonEmpty(val), nil
	case []any:
		out := make([]string, 0, len(val))
		for _, item := range val {
			str, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("include only supports strings")
			}
			out = append(out, str)
		}
		return trimNonEmpty(out), nil
	default:
		return nil, fmt.Errorf("include must be a string array")
	}
}

func trimNonEmpty(items []string) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func collectSettingsKeys(settings map[string]any, dest keySet) {
	if dest == nil || len(settings) == 0 {
		return
	}
	flattenConfigKeys("", settings, dest)
}

func flattenConfigKeys(prefix string, node any, dest keySet) {
	join := func(k string) string {
		k = strings.ToLower(strings.TrimSpace(k))
		if prefix == "" || k == "" {
			return k
		}
		return prefix + "." + k
	}
	switch val := node.(type) {
	case map[string]any:
		for k, v := range val {
			if next := join(k); next != "" {
				flattenConfigKeys(next, v, dest)
			}
		}
	case map[any]any:
		for k, v := range val {
			keyStr, ok := k.(string)
			if !ok {
				continue
			}
			if next := join(keyStr); next != "" {
				flattenConfigKeys(next, v, dest)
			}
		}
	default:
		if prefix != "" {
			dest.mark(prefix)
		}
	}
}
