package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"gopkg.in/yaml.v3"
)

// StreamURLEnv は上流ストリームの URL を指定する環境変数
const StreamURLEnv = "MJPEG_STREAM_URL"

// ConfigFileEnv は設定ファイルのパスを指定する環境変数
const ConfigFileEnv = "MJPEG_CONFIG"

// ErrMissingStreamURL は上流 URL が設定されていない
var ErrMissingStreamURL = errors.New("上流ストリームの URL が設定されていません")

// Config はアプリケーション全体の設定を保持する構造体
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Upstream UpstreamConfig `yaml:"upstream"`
	Client   ClientConfig   `yaml:"client"`
	Log      LogConfig      `yaml:"log"`
}

// ServerConfig はHTTPサーバーの設定
type ServerConfig struct {
	Host string `yaml:"host" env:"SERVER_HOST"` // リッスンするホスト
	Port int    `yaml:"port" env:"PORT"`        // リッスンするポート番号

	// タイムアウト設定
	ReadTimeout  time.Duration `yaml:"read_timeout"`  // 読み込みタイムアウト
	WriteTimeout time.Duration `yaml:"write_timeout"` // 書き込みタイムアウト
}

// UpstreamConfig は上流 M-JPEG ストリームの設定
type UpstreamConfig struct {
	URL        string        `yaml:"url" env:"MJPEG_STREAM_URL"`             // カメラのベース URL
	Timeout    time.Duration `yaml:"timeout" env:"UPSTREAM_TIMEOUT"`         // 無通信タイムアウト
	RetryDelay time.Duration `yaml:"retry_delay" env:"UPSTREAM_RETRY_DELAY"` // 再接続までの待ち時間
	MaxBuffer  int           `yaml:"max_buffer" env:"UPSTREAM_MAX_BUFFER"`   // 未消費バッファの上限 (0 で無制限)
}

// ClientConfig は WebSocket クライアントへの配信設定
type ClientConfig struct {
	QueueSize      int           `yaml:"queue_size" env:"CLIENT_QUEUE_SIZE"`       // クライアントごとの送信キュー長
	WriteTimeout   time.Duration `yaml:"write_timeout" env:"CLIENT_WRITE_TIMEOUT"` // 1フレームの書き込みタイムアウト
	AllowedOrigins string        `yaml:"allowed_origins" env:"ALLOWED_ORIGINS"`    // カンマ区切りの Origin パターン
}

// LogConfig はログ出力の設定
type LogConfig struct {
	Level  string `yaml:"level" env:"LOG_LEVEL"`   // debug, info, warn, error
	Format string `yaml:"format" env:"LOG_FORMAT"` // json, console
}

// Default はデフォルト値の設定を返す
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 0, // ストリーミング用にタイムアウト無効化
		},
		Upstream: UpstreamConfig{
			Timeout:    10 * time.Second,
			RetryDelay: 5 * time.Second,
			MaxBuffer:  8 << 20,
		},
		Client: ClientConfig{
			QueueSize:      2,
			WriteTimeout:   5 * time.Second,
			AllowedOrigins: "*",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Override は検証の直前に設定を書き換える（コマンドライン引数など）
type Override func(*Config)

// Load は環境変数から設定を読み込む
// MJPEG_CONFIG が指定されていれば、そのファイルを先に読み込む
func Load(overrides ...Override) (*Config, error) {
	return LoadFile(os.Getenv(ConfigFileEnv), overrides...)
}

// LoadFile は設定ファイルと環境変数から設定を読み込む
// 優先順位: overrides > 環境変数 > 設定ファイル > デフォルト値
func LoadFile(path string, overrides ...Override) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := cfg.readFile(path); err != nil {
			return nil, err
		}
	}

	if err := envdecode.Decode(cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, fmt.Errorf("環境変数の読み込みに失敗: %w", err)
	}

	for _, override := range overrides {
		override(cfg)
	}

	// 設定の検証
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("設定の検証に失敗: %w", err)
	}

	return cfg, nil
}

func (c *Config) readFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("設定ファイルの読み込みに失敗: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("設定ファイルの解析に失敗 (%s): %w", path, err)
	}
	return nil
}

// Validate は設定の妥当性を検証する
func (c *Config) Validate() error {
	// サーバー設定の検証
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("無効なポート番号: %d", c.Server.Port)
	}

	// 上流設定の検証
	if strings.TrimSpace(c.Upstream.URL) == "" {
		return fmt.Errorf("%w: 環境変数 %s にカメラの URL を指定してください (例: export %s=\"http://192.168.1.100\")",
			ErrMissingStreamURL, StreamURLEnv, StreamURLEnv)
	}
	u, err := url.Parse(c.Upstream.URL)
	if err != nil {
		return fmt.Errorf("無効な上流 URL %q: %w", c.Upstream.URL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("無効な上流 URL %q: http または https を指定してください", c.Upstream.URL)
	}
	if u.Host == "" {
		return fmt.Errorf("無効な上流 URL %q: ホストがありません", c.Upstream.URL)
	}
	if c.Upstream.Timeout <= 0 {
		return fmt.Errorf("無効なタイムアウト: %s", c.Upstream.Timeout)
	}
	if c.Upstream.RetryDelay <= 0 {
		return fmt.Errorf("無効な再接続待ち時間: %s", c.Upstream.RetryDelay)
	}
	if c.Upstream.MaxBuffer < 0 {
		return fmt.Errorf("無効なバッファ上限: %d", c.Upstream.MaxBuffer)
	}

	// クライアント設定の検証
	if c.Client.QueueSize < 1 {
		return fmt.Errorf("無効な送信キュー長: %d", c.Client.QueueSize)
	}
	if c.Client.WriteTimeout <= 0 {
		return fmt.Errorf("無効な書き込みタイムアウト: %s", c.Client.WriteTimeout)
	}

	switch c.Log.Format {
	case "json", "console":
	default:
		return fmt.Errorf("無効なログ形式: %s", c.Log.Format)
	}

	return nil
}

// ServerAddress はサーバーのリッスンアドレスを返す
func (c *Config) ServerAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// OriginPatterns は許可する Origin パターンの一覧を返す
func (c *Config) OriginPatterns() []string {
	var patterns []string
	for _, p := range strings.Split(c.Client.AllowedOrigins, ",") {
		if p = strings.TrimSpace(p); p != "" {
			patterns = append(patterns, p)
		}
	}
	return patterns
}
