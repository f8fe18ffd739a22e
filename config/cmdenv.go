package config

import (
	"fmt"
	"os"
	"reflect"
	"strings"

	"github.com/jessevdk/go-flags"
)

// CmdEnv holds the command line options and environment variables. They are
// applied to the loaded config through `cmdenv` struct tags, and override
// whatever the config files say. Command line options win over env vars.
// Defaults for config values belong in the config structs, not here.
type CmdEnv struct {
	ConfigLocations   []string `short:"c" long:"config" env:"REBALANCER_CONFIG" env-delim:"," default:"/etc/rebalancer/config.yaml" description:"config file or URL to load; may be repeated"`
	HTTPListenAddr    string   `long:"http-listen-addr" env:"REBALANCER_HTTP_LISTEN_ADDRESS" description:"address for the health and version endpoints"`
	RedisHost         string   `long:"redis-host" env:"REBALANCER_REDIS_HOST" description:"Redis host address"`
	RedisUsername     string   `long:"redis-username" env:"REBALANCER_REDIS_USERNAME" description:"Redis username"`
	RedisPassword     string   `long:"redis-password" env:"REBALANCER_REDIS_PASSWORD" description:"Redis password"`
	RedisAuthCode     string   `long:"redis-auth-code" env:"REBALANCER_REDIS_AUTH_CODE" description:"Redis AUTH code"`
	MySQLDSN          string   `long:"mysql-dsn" env:"REBALANCER_MYSQL_DSN" description:"DSN of the project registry database"`
	InfluxToken       string   `long:"influx-token" env:"REBALANCER_INFLUX_TOKEN" description:"InfluxDB API token for the volume store"`
	OTelMetricsAPIKey string   `long:"otel-metrics-api-key" env:"REBALANCER_OTEL_METRICS_API_KEY" description:"API key for OTel metrics"`
	OTelTracesAPIKey  string   `long:"otel-traces-api-key" env:"REBALANCER_OTEL_TRACES_API_KEY" description:"API key for OTel traces"`
	Debug             bool     `short:"d" long:"debug" description:"force the log level to debug"`
	Version           bool     `short:"v" long:"version" description:"print version number and exit"`
	Validate          bool     `short:"V" long:"validate" description:"validate the configuration and exit"`
}

func NewCmdEnvOptions(args []string) (*CmdEnv, error) {
	opts := &CmdEnv{}

	if _, err := flags.ParseArgs(opts, args); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		return nil, err
	}

	return opts, nil
}

// GetField returns the reflect.Value for the field with the given name in the CmdEnv struct.
func (c *CmdEnv) GetField(name string) reflect.Value {
	return reflect.ValueOf(c).Elem().FieldByName(name)
}

// ApplyTags copies non-zero CmdEnv fields into every field of s tagged with
// `cmdenv:"FieldName"`. A tag may list several comma-separated names; the
// first non-zero one wins. Types must match exactly.
func (c *CmdEnv) ApplyTags(s reflect.Value) error {
	return applyCmdEnvTags(s, c)
}

type getFielder interface {
	GetField(name string) reflect.Value
}

// applyCmdEnvTags takes the getFielder as a parameter so tests can supply
// their own source of values.
func applyCmdEnvTags(s reflect.Value, fielder getFielder) error {
	switch s.Kind() {
	case reflect.Struct:
		t := s.Type()

		for i := 0; i < s.NumField(); i++ {
			field := s.Field(i)
			fieldType := t.Field(i)

			if tag := fieldType.Tag.Get("cmdenv"); tag != "" {
				for _, name := range strings.Split(tag, ",") {
					value := fielder.GetField(name)
					if !value.IsValid() {
						// the tag must name a field in the fielder
						return fmt.Errorf("programming error -- invalid field name: %s", name)
					}
					if !field.CanSet() {
						return fmt.Errorf("programming error -- cannot set new value for: %s", fieldType.Name)
					}
					if value.IsZero() {
						continue
					}
					if fieldType.Type != value.Type() {
						return fmt.Errorf("programming error -- types don't match for field: %s (%v and %v)",
							fieldType.Name, fieldType.Type, value.Type())
					}
					field.Set(value)
					break
				}
			}

			if err := applyCmdEnvTags(field, fielder); err != nil {
				return err
			}
		}

	case reflect.Ptr:
		if !s.IsNil() {
			return applyCmdEnvTags(s.Elem(), fielder)
		}
	}
	return nil
}
