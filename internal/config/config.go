package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const EnvPrefix = "PIXELATOR"

type Logger struct {
	Level string `yaml:"level" mapstructure:"level"`
}

type Server struct {
	Addr           string        `yaml:"addr" mapstructure:"addr"`
	IdleTimeout    time.Duration `yaml:"idle_timeout" mapstructure:"idle_timeout"`
	MaxUploadBytes int64         `yaml:"max_upload_bytes" mapstructure:"max_upload_bytes"`
}

type Batch struct {
	GroupSize      int           `yaml:"group_size" mapstructure:"group_size"`
	NotifyInterval time.Duration `yaml:"notify_interval" mapstructure:"notify_interval"`
}

type Output struct {
	Format string `yaml:"format" mapstructure:"format"`
}

type Local struct {
	Path    string `yaml:"path" mapstructure:"path"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

type S3 struct {
	Endpoint       string `yaml:"endpoint" mapstructure:"endpoint"`
	Region         string `yaml:"region" mapstructure:"region"`
	Bucket         string `yaml:"bucket" mapstructure:"bucket"`
	Prefix         string `yaml:"prefix" mapstructure:"prefix"`
	AccessKey      string `yaml:"access_key" mapstructure:"access_key"`
	Secret         string `yaml:"secret" mapstructure:"secret"`
	ForcePathStyle bool   `yaml:"force_path_style" mapstructure:"force_path_style"`
	PublicBaseURL  string `yaml:"public_base_url" mapstructure:"public_base_url"`
	ACL            string `yaml:"acl" mapstructure:"acl"`
}

type Storage struct {
	Type  string `yaml:"type" mapstructure:"type"`
	Local Local  `yaml:"local" mapstructure:"local"`
	S3    S3     `yaml:"s3" mapstructure:"s3"`
}

type Generator struct {
	Endpoint          string        `yaml:"endpoint" mapstructure:"endpoint"`
	Token             string        `yaml:"token" mapstructure:"token"`
	PollInterval      time.Duration `yaml:"poll_interval" mapstructure:"poll_interval"`
	Timeout           time.Duration `yaml:"timeout" mapstructure:"timeout"`
	PixelPrompt       string        `yaml:"pixel_prompt" mapstructure:"pixel_prompt"`
	PlaceholderPrompt string        `yaml:"placeholder_prompt" mapstructure:"placeholder_prompt"`
}

type Remover struct {
	Endpoint string        `yaml:"endpoint" mapstructure:"endpoint"`
	APIKey   string        `yaml:"api_key" mapstructure:"api_key"`
	Timeout  time.Duration `yaml:"timeout" mapstructure:"timeout"`
}

type Slack struct {
	Token   string `yaml:"token" mapstructure:"token"`
	Channel string `yaml:"channel" mapstructure:"channel"`
}

type Kafka struct {
	URL string `yaml:"url" mapstructure:"url"`
}

type PubSub struct {
	Project string `yaml:"project" mapstructure:"project"`
	Topic   string `yaml:"topic" mapstructure:"topic"`
}

type Notifier struct {
	Type string `yaml:"type" mapstructure:"type"`
	// Echo also logs every message sent to a remote backend.
	Echo   bool   `yaml:"echo" mapstructure:"echo"`
	Slack  Slack  `yaml:"slack" mapstructure:"slack"`
	Kafka  Kafka  `yaml:"kafka" mapstructure:"kafka"`
	PubSub PubSub `yaml:"pubsub" mapstructure:"pubsub"`
}

type CatalogLocal struct {
	Path string `yaml:"path" mapstructure:"path"`
}

type Postgres struct {
	ConnectionString string `yaml:"connection_string" mapstructure:"connection_string"`
}

type Catalog struct {
	Type     string       `yaml:"type" mapstructure:"type"`
	Local    CatalogLocal `yaml:"local" mapstructure:"local"`
	Postgres Postgres     `yaml:"postgres" mapstructure:"postgres"`
}

type Config struct {
	Logger    Logger    `yaml:"logger" mapstructure:"logger"`
	Server    Server    `yaml:"server" mapstructure:"server"`
	Batch     Batch     `yaml:"batch" mapstructure:"batch"`
	Output    Output    `yaml:"output" mapstructure:"output"`
	Storage   Storage   `yaml:"storage" mapstructure:"storage"`
	Generator Generator `yaml:"generator" mapstructure:"generator"`
	Remover   Remover   `yaml:"remover" mapstructure:"remover"`
	Notifier  Notifier  `yaml:"notifier" mapstructure:"notifier"`
	Catalog   Catalog   `yaml:"catalog" mapstructure:"catalog"`
}

var defaults = map[string]any{
	"logger.level": "info",

	"server.addr":             ":3000",
	"server.idle_timeout":     "10m",
	"server.max_upload_bytes": 10 << 20,

	"batch.group_size":      10,
	"batch.notify_interval": "45m",

	"output.format": "csv",

	"storage.type":                       "local",
	"storage.local.path":                 "./dev/storage",
	"storage.local.base_url":             "",
	"storage.s3.endpoint":                "",
	"storage.s3.region":                  "",
	"storage.s3.bucket":                  "",
	"storage.s3.prefix":                  "",
	"storage.s3.access_key":              "",
	"storage.s3.secret":                  "",
	"storage.s3.force_path_style":        false,
	"storage.s3.public_base_url":         "",
	"storage.s3.acl":                     "public-read",
	"generator.endpoint":                 "",
	"generator.token":                    "",
	"generator.poll_interval":            "5s",
	"generator.timeout":                  "10m",
	"generator.pixel_prompt":             "pixel art character, 16-bit, full body, plain background",
	"generator.placeholder_prompt":       "pixel art placeholder silhouette, 16-bit, plain background",
	"remover.endpoint":                   "https://sdk.photoroom.com/v1/segment",
	"remover.api_key":                    "",
	"remover.timeout":                    "2m",
	"notifier.type":                      "log",
	"notifier.echo":                      false,
	"notifier.slack.token":               "",
	"notifier.slack.channel":             "",
	"notifier.kafka.url":                 "",
	"notifier.pubsub.project":            "",
	"notifier.pubsub.topic":              "",
	"catalog.type":                       "local",
	"catalog.local.path":                 "./dev/catalog",
	"catalog.postgres.connection_string": "",
}

// legacyEnv maps keys to the variable names of the original deployment. The
// prefixed PIXELATOR_ variables win over these.
var legacyEnv = map[string]string{
	"notifier.slack.token":       "SLACK_BOT_TOKEN",
	"remover.api_key":            "PHOTO_ROOM_API_KEY",
	"storage.s3.endpoint":        "DIGITAL_OCEAN_SPACES_ENDPOINT",
	"storage.s3.region":          "DIGITAL_OCEAN_SPACES_REGION",
	"storage.s3.bucket":          "DIGITAL_OCEAN_SPACES_BUCKET",
	"storage.s3.access_key":      "DIGITAL_OCEAN_SPACES_ACCESS_KEY",
	"storage.s3.secret":          "DIGITAL_OCEAN_SPACES_SECRET",
	"storage.s3.public_base_url": "DIGITAL_OCEAN_CDN_ENDPOINT",
}

func newViper() *viper.Viper {
	v := viper.New()
	for k, d := range defaults {
		v.SetDefault(k, d)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for k, env := range legacyEnv {
		// BindEnv only errors without a key.
		_ = v.BindEnv(k, env)
	}
	return v
}

// NewFromFile reads a YAML file and overlays the environment. An empty path
// loads defaults and environment only.
func NewFromFile(fpath string) (*Config, error) {
	var bs []byte
	if fpath != "" {
		var err error
		bs, err = os.ReadFile(fpath)
		if err != nil {
			return nil, err
		}
	}
	return New(bs)
}

// New parses YAML bytes and overlays the environment.
func New(bs []byte) (*Config, error) {
	v := newViper()

	if len(bs) > 0 {
		raw := map[string]any{}
		if err := yaml.Unmarshal(bs, &raw); err != nil {
			return nil, fmt.Errorf("parsing config: %w", err)
		}
		if err := v.MergeConfigMap(raw); err != nil {
			return nil, fmt.Errorf("merging config: %w", err)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}

	if port := os.Getenv("PORT"); port != "" && os.Getenv(EnvPrefix+"_SERVER_ADDR") == "" && !v.InConfig("server.addr") {
		c.Server.Addr = ":" + port
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func oneOf(field, value string, allowed ...string) error {
	for _, a := range allowed {
		if value == a {
			return nil
		}
	}
	return fmt.Errorf("%s: unsupported value %q (want one of %s)", field, value, strings.Join(allowed, ", "))
}

func (c *Config) Validate() error {
	if c.Batch.GroupSize < 1 {
		return fmt.Errorf("batch.group_size must be positive, got %d", c.Batch.GroupSize)
	}
	if c.Server.MaxUploadBytes < 1 {
		return fmt.Errorf("server.max_upload_bytes must be positive, got %d", c.Server.MaxUploadBytes)
	}
	if err := oneOf("output.format", c.Output.Format, "csv", "parquet"); err != nil {
		return err
	}
	if err := oneOf("storage.type", c.Storage.Type, "local", "s3"); err != nil {
		return err
	}
	if c.Storage.Type == "s3" && c.Storage.S3.Bucket == "" {
		return fmt.Errorf("storage.s3.bucket is required for s3 storage")
	}
	if err := oneOf("notifier.type", c.Notifier.Type, "log", "slack", "kafka", "pubsub", "none"); err != nil {
		return err
	}
	switch c.Notifier.Type {
	case "slack":
		if c.Notifier.Slack.Token == "" || c.Notifier.Slack.Channel == "" {
			return fmt.Errorf("notifier.slack.token and notifier.slack.channel are required")
		}
	case "kafka":
		if c.Notifier.Kafka.URL == "" {
			return fmt.Errorf("notifier.kafka.url is required")
		}
	case "pubsub":
		if c.Notifier.PubSub.Project == "" || c.Notifier.PubSub.Topic == "" {
			return fmt.Errorf("notifier.pubsub.project and notifier.pubsub.topic are required")
		}
	}
	if err := oneOf("catalog.type", c.Catalog.Type, "local", "postgres", "none"); err != nil {
		return err
	}
	if c.Catalog.Type == "postgres" && c.Catalog.Postgres.ConnectionString == "" {
		return fmt.Errorf("catalog.postgres.connection_string is required")
	}
	return nil
}
