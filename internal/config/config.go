// Package config 加载 chains 命令行与服务的配置。
//
// 优先级从低到高：默认值、config.yml、.env 文件、环境变量（前缀 CHAINS_，层级以 _ 连接，
// 如 CHAINS_OPENAI_API_KEY）。
package config

import (
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const EnvPrefix = "CHAINS"

type Config struct {
	OpenAI   OpenAIConfig   `mapstructure:"openai"`
	Store    StoreConfig    `mapstructure:"store"`
	Weaviate WeaviateConfig `mapstructure:"weaviate"`
	Server   ServerConfig   `mapstructure:"server"`
	NATS     NATSConfig     `mapstructure:"nats"`
	Log      LogConfig      `mapstructure:"log"`
	Tracing  TracingConfig  `mapstructure:"tracing"`
	Sentry   SentryConfig   `mapstructure:"sentry"`
}

// OpenAIConfig 对话模型与向量化。provider 为 langchain 时对话模型经 langchaingo 的 OpenAI 客户端调用。
type OpenAIConfig struct {
	Provider       string        `mapstructure:"provider" validate:"oneof=openai langchain"`
	APIKey         string        `mapstructure:"api_key"`
	BaseURL        string        `mapstructure:"base_url" validate:"omitempty,url"`
	Model          string        `mapstructure:"model" validate:"required"`
	EmbeddingModel string        `mapstructure:"embedding_model" validate:"required"`
	Timeout        time.Duration `mapstructure:"timeout" validate:"gte=0"`
	MaxRetries     int           `mapstructure:"max_retries" validate:"gte=0,lte=10"`
}

// StoreConfig 向量库。driver 为 memory 时忽略 dsn。
type StoreConfig struct {
	Driver    string `mapstructure:"driver" validate:"oneof=memory sqlite pgvector"`
	DSN       string `mapstructure:"dsn" validate:"required_unless=Driver memory"`
	Dimension int    `mapstructure:"dimension" validate:"required_if=Driver pgvector"`
}

// WeaviateConfig 代码示例库。默认用 nearText 由 weaviate 自行向量化，
// use_embedding 为 true 时改用本地 embedder 生成向量做 nearVector。
type WeaviateConfig struct {
	URL          string `mapstructure:"url" validate:"omitempty,url"`
	Class        string `mapstructure:"class"`
	ContentField string `mapstructure:"content_field" validate:"required"`
	TopK         int    `mapstructure:"top_k" validate:"gte=0"`
	UseEmbedding bool   `mapstructure:"use_embedding"`
}

type ServerConfig struct {
	Addr      string        `mapstructure:"addr" validate:"required"`
	JWTSecret string        `mapstructure:"jwt_secret"`
	Timeout   time.Duration `mapstructure:"timeout" validate:"gte=0"`
}

type NATSConfig struct {
	URL     string `mapstructure:"url"`
	Subject string `mapstructure:"subject" validate:"required"`
	Queue   string `mapstructure:"queue"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" validate:"oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"oneof=json console"`
}

type TracingConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	Endpoint    string  `mapstructure:"endpoint" validate:"required_if=Enabled true"`
	Insecure    bool    `mapstructure:"insecure"`
	ServiceName string  `mapstructure:"service_name" validate:"required"`
	SampleRate  float64 `mapstructure:"sample_rate" validate:"gte=0,lte=1"`
}

type SentryConfig struct {
	DSN         string `mapstructure:"dsn"`
	Environment string `mapstructure:"environment"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("openai.provider", "openai")
	v.SetDefault("openai.model", "gpt-4o-mini")
	v.SetDefault("openai.embedding_model", "text-embedding-3-small")
	v.SetDefault("openai.timeout", 60*time.Second)
	v.SetDefault("openai.max_retries", 2)
	v.SetDefault("store.driver", "memory")
	v.SetDefault("weaviate.class", "CodeExample")
	v.SetDefault("weaviate.content_field", "code")
	v.SetDefault("weaviate.top_k", 1)
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.timeout", 2*time.Minute)
	v.SetDefault("nats.url", "nats://127.0.0.1:4222")
	v.SetDefault("nats.subject", "chains")
	v.SetDefault("nats.queue", "chains")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("tracing.service_name", "chains")
	v.SetDefault("tracing.sample_rate", 1.0)
	v.SetDefault("sentry.environment", "development")
}

// keys 需要显式绑定环境变量的键。viper 的 AutomaticEnv 只对已知键生效，Unmarshal 不会触发查找。
var keys = []string{
	"openai.provider", "openai.api_key", "openai.base_url", "openai.model", "openai.embedding_model", "openai.timeout",
	"openai.max_retries",
	"store.driver", "store.dsn", "store.dimension",
	"weaviate.url", "weaviate.class", "weaviate.content_field", "weaviate.top_k", "weaviate.use_embedding",
	"server.addr", "server.jwt_secret", "server.timeout",
	"nats.url", "nats.subject", "nats.queue",
	"log.level", "log.format",
	"tracing.enabled", "tracing.endpoint", "tracing.insecure", "tracing.service_name", "tracing.sample_rate",
	"sentry.dsn", "sentry.environment",
}

type loaderOptions struct {
	configFile string
	envFile    string
}

type Option func(*loaderOptions)

// WithConfigFile 指定 yaml 配置文件，否则依次查找 ./config.yml 与 ./config/config.yml。
func WithConfigFile(path string) Option {
	return func(o *loaderOptions) { o.configFile = path }
}

// WithEnvFile 指定 .env 文件，否则使用当前目录下的 .env（存在时）。
func WithEnvFile(path string) Option {
	return func(o *loaderOptions) { o.envFile = path }
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func firstExisting(paths ...string) string {
	for _, p := range paths {
		if exists(p) {
			return p
		}
	}
	return ""
}

// Load 读取并校验配置。
func Load(opts ...Option) (*Config, error) {
	o := &loaderOptions{}
	for _, opt := range opts {
		opt(o)
	}
	if o.configFile == "" {
		o.configFile = firstExisting("./config.yml", "./config/config.yml")
	}
	if o.envFile == "" {
		o.envFile = firstExisting(".env")
	}

	// .env 不覆盖已存在的环境变量
	if o.envFile != "" {
		if err := godotenv.Load(o.envFile); err != nil {
			return nil, fmt.Errorf("load env file %s: %w", o.envFile, err)
		}
	}

	v := viper.New()
	setDefaults(v)
	if o.configFile != "" {
		v.SetConfigFile(o.configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", o.configFile, err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, k := range keys {
		if err := v.BindEnv(k); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", k, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		return strings.SplitN(f.Tag.Get("mapstructure"), ",", 2)[0]
	})
	return v
}

// Validate 校验各字段，错误信息使用配置键名。
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s failed on %s", strings.TrimPrefix(fe.Namespace(), "Config."), fe.Tag()))
	}
	return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
}
