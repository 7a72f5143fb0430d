package config

import (
	"fmt"
	"time"

	"github.com/datosgobar/georef-ar-etl-sub000/internal/errhandling"
)

// ConvertToConfig converts validated configuration data into a Config,
// starting from Default so that absent keys keep their defaults.
//
// The expected structure is:
//
//	mode: normal
//	database: {driver: postgres, url: "..."}
//	paths: {data: data, output: output, state: .georef-state}
//	destination: {path: "s3://bucket/georef"}
//	extraction: {bulkSize: 1000, sizeTolerance: 0.1}
//	loader: {binary: ogr2ogr}
//	retry: {maxAttempts: 3}
//	report: {dir: reports, email: {...}}
//	sources: {provincias: {url: "..."}}
//	patches: {departamentos: [{op: delete, where: {in1: "54008"}}]}
//	schedule: {cron: "0 3 * * *"}
//	processes: [provincias, departamentos]
func ConvertToConfig(data map[string]interface{}) (*Config, error) {
	if data == nil {
		return nil, fmt.Errorf("configuration data is nil")
	}
	cfg := Default()

	if mode, ok := data["mode"].(string); ok {
		cfg.Mode = mode
	}

	if db := getMap(data, "database"); db != nil {
		setString(db, "driver", &cfg.Database.Driver)
		setString(db, "url", &cfg.Database.URL)
		setInt(db, "maxOpenConns", &cfg.Database.MaxOpenConns)
		setInt(db, "maxIdleConns", &cfg.Database.MaxIdleConns)
		if err := setDuration(db, "connMaxLifetime", &cfg.Database.ConnMaxLifetime); err != nil {
			return nil, fmt.Errorf("database: %w", err)
		}
		if err := setDuration(db, "connectTimeout", &cfg.Database.ConnectTimeout); err != nil {
			return nil, fmt.Errorf("database: %w", err)
		}
	}

	if paths := getMap(data, "paths"); paths != nil {
		setString(paths, "data", &cfg.Paths.Data)
		setString(paths, "output", &cfg.Paths.Output)
		setString(paths, "state", &cfg.Paths.State)
	}

	if dest := getMap(data, "destination"); dest != nil {
		setString(dest, "path", &cfg.Destination.Path)
		setString(dest, "region", &cfg.Destination.Region)
		setString(dest, "endpoint", &cfg.Destination.Endpoint)
		setString(dest, "accessKey", &cfg.Destination.AccessKey)
		setString(dest, "secretKey", &cfg.Destination.SecretKey)
	}

	if ext := getMap(data, "extraction"); ext != nil {
		setInt(ext, "bulkSize", &cfg.Extraction.BulkSize)
		if v, ok := toFloat(ext["sizeTolerance"]); ok {
			cfg.Extraction.SizeTolerance = v
		}
	}

	if loader := getMap(data, "loader"); loader != nil {
		setString(loader, "binary", &cfg.Loader.Binary)
		setString(loader, "sourceSrs", &cfg.Loader.SourceSRS)
		setString(loader, "targetSrs", &cfg.Loader.TargetSRS)
		if v, ok := loader["disablePrecision"].(bool); ok {
			cfg.Loader.DisablePrecision = v
		}
		if err := setDuration(loader, "timeout", &cfg.Loader.Timeout); err != nil {
			return nil, fmt.Errorf("loader: %w", err)
		}
	}

	if retry := getMap(data, "retry"); retry != nil {
		cfg.Retry = errhandling.ParseRetryConfig(retry)
		if err := cfg.Retry.Validate(); err != nil {
			return nil, fmt.Errorf("retry: %w", err)
		}
	}

	if logging := getMap(data, "logging"); logging != nil {
		setString(logging, "level", &cfg.Logging.Level)
		setString(logging, "format", &cfg.Logging.Format)
		setString(logging, "file", &cfg.Logging.File)
	}

	if rep := getMap(data, "report"); rep != nil {
		setString(rep, "dir", &cfg.Report.Dir)
		if email := getMap(rep, "email"); email != nil {
			setString(email, "host", &cfg.Report.Email.Host)
			setInt(email, "port", &cfg.Report.Email.Port)
			setString(email, "user", &cfg.Report.Email.User)
			setString(email, "password", &cfg.Report.Email.Password)
			setString(email, "from", &cfg.Report.Email.From)
			cfg.Report.Email.To = getStrings(email, "to")
		}
	}

	if schedule := getMap(data, "schedule"); schedule != nil {
		setString(schedule, "cron", &cfg.Schedule.Cron)
		cfg.Schedule.Processes = getStrings(schedule, "processes")
	}

	for name, raw := range getMap(data, "sources") {
		src, ok := raw.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("invalid source %q", name)
		}
		cfg.Sources[name] = convertSource(src)
	}

	for name, raw := range getMap(data, "patches") {
		list, ok := raw.([]interface{})
		if !ok {
			return nil, fmt.Errorf("invalid patches for %q: expected list", name)
		}
		rules, err := convertPatchRules(list)
		if err != nil {
			return nil, fmt.Errorf("patches for %q: %w", name, err)
		}
		cfg.Patches[name] = rules
	}

	cfg.Processes = getStrings(data, "processes")
	return cfg, nil
}

func convertSource(data map[string]interface{}) SourceConfig {
	src := SourceConfig{}
	setString(data, "url", &src.URL)
	src.URLs = getStrings(data, "urls")
	setString(data, "encoding", &src.Encoding)
	setInt(data, "expectedSize", &src.ExpectedSize)
	setString(data, "sizeOp", &src.SizeOp)
	return src
}

func convertPatchRules(list []interface{}) ([]PatchRule, error) {
	rules := make([]PatchRule, 0, len(list))
	for i, raw := range list {
		data, ok := raw.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("invalid rule at index %d", i)
		}
		rule := PatchRule{Value: data["value"], Where: getMap(data, "where")}
		if rule.Op, ok = data["op"].(string); !ok {
			return nil, fmt.Errorf("rule at index %d: missing required field 'op'", i)
		}
		setString(data, "field", &rule.Field)
		if set := getMap(data, "set"); set != nil {
			rule.Set = make(map[string]string, len(set))
			for field, v := range set {
				s, ok := v.(string)
				if !ok {
					return nil, fmt.Errorf("rule at index %d: expression for %q must be a string, got %T", i, field, v)
				}
				rule.Set[field] = s
			}
		}
		rules = append(rules, rule)
	}
	return rules, nil
}

func getMap(data map[string]interface{}, key string) map[string]interface{} {
	m, _ := data[key].(map[string]interface{})
	return m
}

func getStrings(data map[string]interface{}, key string) []string {
	list, ok := data[key].([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(list))
	for _, v := range list {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func setString(data map[string]interface{}, key string, dst *string) {
	if v, ok := data[key].(string); ok {
		*dst = v
	}
}

func setInt(data map[string]interface{}, key string, dst *int) {
	if v, ok := toFloat(data[key]); ok {
		*dst = int(v)
	}
}

func setDuration(data map[string]interface{}, key string, dst *time.Duration) error {
	s, ok := data[key].(string)
	if !ok {
		return nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration for %q: %w", key, err)
	}
	*dst = d
	return nil
}

// toFloat accepts the numeric types produced by both JSON and YAML decoding.
func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}
