package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Relay configuration. Values come from defaults, then relay.yaml, then GOROVER_* env.
type Relay struct {
	Addr     string `mapstructure:"addr" validate:"required"`
	LogLevel string `mapstructure:"log_level" validate:"oneof=debug info warn error"`

	DefaultTimeout          time.Duration `mapstructure:"default_timeout" validate:"gt=0"`
	CaptureTimeout          time.Duration `mapstructure:"capture_timeout" validate:"gt=0"`
	FailPendingOnDisconnect bool          `mapstructure:"fail_pending_on_disconnect"`
	ObserverQueue           int           `mapstructure:"observer_queue" validate:"gte=1"`

	MCP       MCP       `mapstructure:"mcp"`
	Assistant Assistant `mapstructure:"assistant"`
	MQTT      MQTT      `mapstructure:"mqtt"`
	MDNS      MDNS      `mapstructure:"mdns"`
}

type MCP struct {
	// "off", "stdio" or "sse"
	Mode    string `mapstructure:"mode" validate:"oneof=off stdio sse"`
	SSEAddr string `mapstructure:"sse_addr" validate:"required_if=Mode sse"`
}

type Assistant struct {
	Enabled   bool          `mapstructure:"enabled"`
	URL       string        `mapstructure:"url" validate:"required_if=Enabled true"`
	Model     string        `mapstructure:"model" validate:"required_if=Enabled true"`
	MaxRounds int           `mapstructure:"max_rounds" validate:"gte=1"`
	Timeout   time.Duration `mapstructure:"timeout" validate:"gt=0"`
}

type MQTT struct {
	Broker      string `mapstructure:"broker"`
	TopicPrefix string `mapstructure:"topic_prefix"`
	ClientID    string `mapstructure:"client_id"`
}

type MDNS struct {
	Advertise bool   `mapstructure:"advertise"`
	Instance  string `mapstructure:"instance"`
	Port      int    `mapstructure:"port" validate:"gte=0,lte=65535"`
}

// Rover (device side) configuration.
type Rover struct {
	RelayURL string `mapstructure:"relay_url"` // empty: discover over mDNS
	HTTPAddr string `mapstructure:"http_addr"`
	LogLevel string `mapstructure:"log_level" validate:"oneof=debug info warn error"`

	Tick              time.Duration `mapstructure:"tick" validate:"gt=0"`
	ReconnectInterval time.Duration `mapstructure:"reconnect_interval" validate:"gt=0"`
	TelemetryInterval time.Duration `mapstructure:"telemetry_interval" validate:"gte=0"`
	InboundQueue      int           `mapstructure:"inbound_queue" validate:"gte=1"`

	BaseSpeed     int `mapstructure:"base_speed" validate:"gte=0,lte=255"`
	MaxDurationMs int `mapstructure:"max_duration_ms" validate:"gt=0"`

	Detection Detection `mapstructure:"detection"`
	Camera    Camera    `mapstructure:"camera"`
	Vision    Vision    `mapstructure:"vision"`
}

type Detection struct {
	StopDistanceMM int           `mapstructure:"stop_distance_mm" validate:"gt=0"`
	MaxRangeMM     int           `mapstructure:"max_range_mm" validate:"gtfield=StopDistanceMM"`
	Confirmations  int           `mapstructure:"confirmations" validate:"gte=1"`
	Cooldown       time.Duration `mapstructure:"cooldown" validate:"gte=0"`
}

type Camera struct {
	PowerCycle      bool          `mapstructure:"power_cycle"`
	AcquireTimeout  time.Duration `mapstructure:"acquire_timeout" validate:"gt=0"`
	PreviewInterval time.Duration `mapstructure:"preview_interval" validate:"gt=0"`
}

type Vision struct {
	URL      string        `mapstructure:"url"`
	Model    string        `mapstructure:"model"`
	Prompt   string        `mapstructure:"prompt"`
	Attempts int           `mapstructure:"attempts" validate:"gte=1"`
	Backoff  time.Duration `mapstructure:"backoff" validate:"gte=0"`
	Timeout  time.Duration `mapstructure:"timeout" validate:"gt=0"`
}

const envPrefix = "GOROVER"

func setRelayDefaults(v *viper.Viper) {
	v.SetDefault("addr", "0.0.0.0:8090")
	v.SetDefault("log_level", "info")
	v.SetDefault("default_timeout", 10*time.Second)
	v.SetDefault("capture_timeout", 45*time.Second)
	v.SetDefault("fail_pending_on_disconnect", false)
	v.SetDefault("observer_queue", 32)
	v.SetDefault("mcp.mode", "off")
	v.SetDefault("mcp.sse_addr", "0.0.0.0:8091")
	v.SetDefault("assistant.enabled", false)
	v.SetDefault("assistant.url", "http://localhost:11434")
	v.SetDefault("assistant.model", "llama3.1:8b")
	v.SetDefault("assistant.max_rounds", 4)
	v.SetDefault("assistant.timeout", 2*time.Minute)
	v.SetDefault("mqtt.broker", "")
	v.SetDefault("mqtt.topic_prefix", "gorover")
	v.SetDefault("mqtt.client_id", "gorover-relay")
	v.SetDefault("mdns.advertise", true)
	v.SetDefault("mdns.instance", "gorover-relay")
	v.SetDefault("mdns.port", 8090)
}

func setRoverDefaults(v *viper.Viper) {
	v.SetDefault("relay_url", "")
	v.SetDefault("http_addr", "0.0.0.0:8081")
	v.SetDefault("log_level", "info")
	v.SetDefault("tick", 50*time.Millisecond)
	v.SetDefault("reconnect_interval", 5*time.Second)
	v.SetDefault("telemetry_interval", time.Second)
	v.SetDefault("inbound_queue", 16)
	v.SetDefault("base_speed", 150)
	v.SetDefault("max_duration_ms", 5000)
	v.SetDefault("detection.stop_distance_mm", 300)
	v.SetDefault("detection.max_range_mm", 2000)
	v.SetDefault("detection.confirmations", 3)
	v.SetDefault("detection.cooldown", 5*time.Second)
	v.SetDefault("camera.power_cycle", false)
	v.SetDefault("camera.acquire_timeout", 2*time.Second)
	v.SetDefault("camera.preview_interval", 100*time.Millisecond)
	v.SetDefault("vision.url", "http://localhost:11434")
	v.SetDefault("vision.model", "llava")
	v.SetDefault("vision.prompt", "Name the main object in this picture in at most three words.")
	v.SetDefault("vision.attempts", 3)
	v.SetDefault("vision.backoff", 500*time.Millisecond)
	v.SetDefault("vision.timeout", 20*time.Second)
}

// LoadRelay reads relay.yaml from path (if present) and the environment.
func LoadRelay(path string) (*Relay, error) {
	v := newViper(path, "relay")
	setRelayDefaults(v)
	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Relay
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode relay config: %w", err)
	}
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadRover reads rover.yaml from path (if present) and the environment.
func LoadRover(path string) (*Rover, error) {
	v := newViper(path, "rover")
	setRoverDefaults(v)
	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Rover
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode rover config: %w", err)
	}
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// DefaultRelay returns the relay configuration with only defaults applied.
func DefaultRelay() *Relay {
	v := viper.New()
	setRelayDefaults(v)
	var cfg Relay
	_ = v.Unmarshal(&cfg)
	return &cfg
}

// DefaultRover returns the rover configuration with only defaults applied.
func DefaultRover() *Rover {
	v := viper.New()
	setRoverDefaults(v)
	var cfg Rover
	_ = v.Unmarshal(&cfg)
	return &cfg
}

func newViper(path, name string) *viper.Viper {
	v := viper.New()
	if path != "" {
		v.AddConfigPath(path)
	}
	v.AddConfigPath(".")
	v.SetConfigName(name)
	v.SetConfigType("yaml")

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("read config: %w", err)
		}
	}
	return nil
}

var validate = func() func(any) error {
	vd := validator.New(validator.WithRequiredStructEnabled())
	return func(cfg any) error {
		if err := vd.Struct(cfg); err != nil {
			return fmt.Errorf("invalid config: %w", err)
		}
		return nil
	}
}()
