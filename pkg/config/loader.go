package config

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// LoadConfig 依次读取 base.yaml、<env>.yaml（可选），后者逐层覆盖前者；
// 之后用系统环境变量和 secrets.env 解析 ${VAR} 占位符，系统环境变量优先。
// 无法解析的占位符原样保留，由调用方决定如何处理。
func LoadConfig(env string, configDir string) (map[string]any, error) {
	if configDir == "" {
		configDir = "config"
	}

	merged, err := readYAML(filepath.Join(configDir, "base.yaml"))
	if err != nil {
		return nil, fmt.Errorf("failed to load base.yaml: %w", err)
	}

	if env != "" && env != "base" {
		overlay, err := readYAML(filepath.Join(configDir, env+".yaml"))
		switch {
		case err == nil:
			merged = mergeMaps(merged, overlay)
		case !os.IsNotExist(err):
			return nil, fmt.Errorf("failed to load %s.yaml: %w", env, err)
		}
	}

	secrets, err := readEnvFile(filepath.Join(configDir, "secrets.env"))
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to load secrets.env: %w", err)
	}

	lookup := func(key string) (string, bool) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			return v, true
		}
		v, ok := secrets[key]
		return v, ok
	}
	return expand(merged, lookup).(map[string]any), nil
}

func readYAML(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	out := map[string]any{}
	if err := yaml.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return out, nil
}

// readEnvFile 解析 KEY=VALUE 格式，忽略空行和 # 注释，去掉值两侧的引号
func readEnvFile(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	env := make(map[string]string)
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		value = strings.TrimSpace(value)
		value = strings.Trim(value, `"'`)
		env[strings.TrimSpace(key)] = value
	}
	return env, sc.Err()
}

// mergeMaps 返回 base 与 overlay 的深合并结果，两边都是 map 的键递归合并，其余以 overlay 为准
func mergeMaps(base, overlay map[string]any) map[string]any {
	out := make(map[string]any, len(base)+len(overlay))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range overlay {
		bm, bok := out[k].(map[string]any)
		om, ook := v.(map[string]any)
		if bok && ook {
			out[k] = mergeMaps(bm, om)
			continue
		}
		out[k] = v
	}
	return out
}

// expand 递归替换字符串中的 ${VAR}，包括列表内的值
func expand(v any, lookup func(string) (string, bool)) any {
	switch val := v.(type) {
	case string:
		if !strings.Contains(val, "${") {
			return val
		}
		return os.Expand(val, func(key string) string {
			if s, ok := lookup(key); ok {
				return s
			}
			return "${" + key + "}"
		})
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = expand(item, lookup)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = expand(item, lookup)
		}
		return out
	default:
		return v
	}
}

// Decode 将合并后的配置 map 解码到目标结构体
func Decode(cfgMap map[string]any, out any) error {
	data, err := yaml.Marshal(cfgMap)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return nil
}

// GetEnv 获取环境变量，如果未设置则返回默认值
func GetEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// GetConfigEnv 配置环境名，读 CONFIG_ENV，默认 local
func GetConfigEnv() string {
	return GetEnv("CONFIG_ENV", "local")
}
