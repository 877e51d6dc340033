// Package config は通知サービスの設定読み込みを提供する。
//
// 既定値、YAML設定ファイル（任意）、.envファイル、環境変数の順に上書きする。
// 環境変数は CASEFLOW_ 接頭辞を持ち、キーの "." は "_" に置き換える
// （例: database.path → CASEFLOW_DATABASE_PATH）。
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/nao1215/caseflow/pkg/logger"
)

// envPrefix は環境変数の接頭辞。
const envPrefix = "CASEFLOW"

// Config は通知サービス全体の設定。
type Config struct {
	// HTTP はHTTPサーバーの設定。
	HTTP HTTPConfig `mapstructure:"http"`
	// Database はデータベースの設定。
	Database DatabaseConfig `mapstructure:"database"`
	// Auth は認証の設定。
	Auth AuthConfig `mapstructure:"auth"`
	// CORS はCORSの設定。
	CORS CORSConfig `mapstructure:"cors"`
	// Log はロガーの設定。
	Log logger.Config `mapstructure:"log"`
	// EventFeed はドメインイベントの取得元の設定。
	EventFeed EventFeedConfig `mapstructure:"eventfeed"`
	// Kafka はKafkaの設定。
	Kafka KafkaConfig `mapstructure:"kafka"`
	// Email はメール送信の設定。
	Email EmailConfig `mapstructure:"email"`
	// Metrics はメトリクス公開の設定。
	Metrics MetricsConfig `mapstructure:"metrics"`
}

// HTTPConfig はHTTPサーバーの設定。
type HTTPConfig struct {
	// Port はリッスンポート。
	Port int `mapstructure:"port"`
	// ShutdownTimeout はグレースフルシャットダウンの待ち時間。
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig はSQLiteデータベースの設定。
type DatabaseConfig struct {
	// Path はSQLiteファイルのパス。":memory:" も指定できる。
	Path string `mapstructure:"path"`
	// BusyTimeout はロック待ちのタイムアウト。
	BusyTimeout time.Duration `mapstructure:"busy_timeout"`
}

// AuthConfig はJWT認証の設定。
type AuthConfig struct {
	// JWTSecret はHS256署名の検証に使用するシークレット。
	JWTSecret string `mapstructure:"jwt_secret"`
	// ServiceToken は内部APIを呼び出すサービスが X-Service-Token で送るトークン。
	// 空の場合は内部APIを公開しない。
	ServiceToken string `mapstructure:"service_token"`
}

// CORSConfig はCORSの設定。
type CORSConfig struct {
	// AllowedOrigins はアクセスを許可するオリジン一覧。空の場合はCORSヘッダーを付与しない。
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// EventFeedConfig はドメインイベントの取得元の設定。
type EventFeedConfig struct {
	// Source は取得元（none, http, kafka）。
	Source string `mapstructure:"source"`
	// EventStoreURL はHTTPポーリング時のイベントストアのベースURL。
	EventStoreURL string `mapstructure:"eventstore_url"`
	// PollInterval はHTTPポーリングの間隔。
	PollInterval time.Duration `mapstructure:"poll_interval"`
	// Topic はKafka購読時のトピック。
	Topic string `mapstructure:"topic"`
}

// KafkaConfig はKafkaの接続設定。
type KafkaConfig struct {
	// Brokers はブローカーのアドレス一覧。
	Brokers []string `mapstructure:"brokers"`
	// GroupID はコンシューマーグループID。
	GroupID string `mapstructure:"group_id"`
}

// EmailConfig はメール送信の設定。
type EmailConfig struct {
	// Driver は送信方式（log, http, kafka, smtp）。
	Driver string `mapstructure:"driver"`
	// Timeout は1回の送信処理のタイムアウト。
	Timeout time.Duration `mapstructure:"timeout"`
	// ServiceURL はhttp方式のメール送信サービスのベースURL。
	ServiceURL string `mapstructure:"service_url"`
	// ServiceAPIKey はhttp方式のメール送信サービスのAPIキー。
	ServiceAPIKey string `mapstructure:"service_api_key"`
	// Topic はkafka方式の送信先トピック。
	Topic string `mapstructure:"topic"`
	// SMTPHost はsmtp方式のホスト名。
	SMTPHost string `mapstructure:"smtp_host"`
	// SMTPPort はsmtp方式のポート番号。
	SMTPPort int `mapstructure:"smtp_port"`
	// SMTPUsername はsmtp方式の認証ユーザー名。空の場合は認証しない。
	SMTPUsername string `mapstructure:"smtp_username"`
	// SMTPPassword はsmtp方式の認証パスワード。
	SMTPPassword string `mapstructure:"smtp_password"`
	// From は送信元アドレス。
	From string `mapstructure:"from"`
}

// MetricsConfig はメトリクス公開の設定。
type MetricsConfig struct {
	// Enabled は /metrics を公開するかどうか。
	Enabled bool `mapstructure:"enabled"`
	// Path は公開パス。
	Path string `mapstructure:"path"`
}

// setDefaults は各設定の既定値を登録する。
func setDefaults(v *viper.Viper) {
	v.SetDefault("http.port", 8086)
	v.SetDefault("http.shutdown_timeout", 10*time.Second)

	v.SetDefault("database.path", "/data/notification.db")
	v.SetDefault("database.busy_timeout", 5*time.Second)

	v.SetDefault("auth.jwt_secret", "dev-secret-key")
	v.SetDefault("auth.service_token", "")

	v.SetDefault("cors.allowed_origins", []string{})

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.output", "stdout")
	v.SetDefault("log.file_path", "logs/notification.log")
	v.SetDefault("log.max_size_mb", 100)
	v.SetDefault("log.max_backups", 10)
	v.SetDefault("log.max_age_days", 30)
	v.SetDefault("log.compress", true)

	v.SetDefault("eventfeed.source", "none")
	v.SetDefault("eventfeed.eventstore_url", "http://localhost:8084")
	v.SetDefault("eventfeed.poll_interval", 2*time.Second)
	v.SetDefault("eventfeed.topic", "caseflow.events")

	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.group_id", "caseflow-notification")

	v.SetDefault("email.driver", "log")
	v.SetDefault("email.timeout", 30*time.Second)
	v.SetDefault("email.service_url", "http://localhost:8090")
	v.SetDefault("email.service_api_key", "")
	v.SetDefault("email.topic", "caseflow.emails")
	v.SetDefault("email.smtp_host", "")
	v.SetDefault("email.smtp_port", 587)
	v.SetDefault("email.smtp_username", "")
	v.SetDefault("email.smtp_password", "")
	v.SetDefault("email.from", "noreply@caseflow.local")

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
}

// Load は設定を読み込む。
// configPathが空の場合、または指定したファイルが存在しない場合は既定値と環境変数のみを使用する。
func Load(configPath string) (*Config, error) {
	// .envが無い環境（本番コンテナ等）もあるため、存在しない場合は無視する
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf(".envファイルの読み込みに失敗: %w", err)
	}

	v := viper.New()
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("設定ファイル %s の読み込みに失敗: %w", configPath, err)
			}
		}
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("設定の解析に失敗: %w", err)
	}

	// PORT環境変数はコンテナ実行環境の慣習に合わせて優先する
	if port := os.Getenv("PORT"); port != "" {
		var p int
		if _, err := fmt.Sscanf(port, "%d", &p); err != nil {
			return nil, fmt.Errorf("PORTの値が不正です: %q", port)
		}
		cfg.HTTP.Port = p
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("設定の検証に失敗: %w", err)
	}
	return &cfg, nil
}

// Validate は設定値の妥当性を検証する。
func (c *Config) Validate() error {
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http.portが不正です: %d", c.HTTP.Port)
	}
	if c.Database.Path == "" {
		return errors.New("database.pathは必須です")
	}
	if c.Auth.JWTSecret == "" {
		return errors.New("auth.jwt_secretは必須です")
	}

	switch c.EventFeed.Source {
	case "none":
	case "http":
		if c.EventFeed.EventStoreURL == "" {
			return errors.New("eventfeed.source=httpにはeventfeed.eventstore_urlが必要です")
		}
		if c.EventFeed.PollInterval <= 0 {
			return fmt.Errorf("eventfeed.poll_intervalが不正です: %s", c.EventFeed.PollInterval)
		}
	case "kafka":
		if len(c.Kafka.Brokers) == 0 || c.EventFeed.Topic == "" {
			return errors.New("eventfeed.source=kafkaにはkafka.brokersとeventfeed.topicが必要です")
		}
	default:
		return fmt.Errorf("eventfeed.sourceが不正です: %q", c.EventFeed.Source)
	}

	switch c.Email.Driver {
	case "log":
	case "http":
		if c.Email.ServiceURL == "" {
			return errors.New("email.driver=httpにはemail.service_urlが必要です")
		}
	case "kafka":
		if len(c.Kafka.Brokers) == 0 || c.Email.Topic == "" {
			return errors.New("email.driver=kafkaにはkafka.brokersとemail.topicが必要です")
		}
	case "smtp":
		if c.Email.SMTPHost == "" || c.Email.From == "" {
			return errors.New("email.driver=smtpにはemail.smtp_hostとemail.fromが必要です")
		}
	default:
		return fmt.Errorf("email.driverが不正です: %q", c.Email.Driver)
	}
	return nil
}
