// Package config загружает конфигурацию приложения через viper:
// YAML файл и переопределения переменными окружения с префиксом JINGLE_.
package config

import (
	"strings"
	"time"

	"github.com/arzzra/jingle/pkg/logger"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

// EnvPrefix префикс переменных окружения
const EnvPrefix = "JINGLE"

// Config корневая конфигурация
type Config struct {
	Identity  IdentityConfig  `mapstructure:"identity"`
	Transport TransportConfig `mapstructure:"transport"`
	Jingle    JingleConfig    `mapstructure:"jingle"`
	Media     MediaConfig     `mapstructure:"media"`
	Log       logger.Config   `mapstructure:"log"`
	HTTP      HTTPConfig      `mapstructure:"http"`
}

// IdentityConfig локальная XMPP идентичность
type IdentityConfig struct {
	JID string `mapstructure:"jid"`
}

// TransportConfig подключение к транспорту станз
type TransportConfig struct {
	URL string `mapstructure:"url"`
}

// JingleConfig протокольные параметры
type JingleConfig struct {
	StanzaTimeout time.Duration `mapstructure:"stanza_timeout"`
	MujiGrace     time.Duration `mapstructure:"muji_grace"`
	IDPrefix      string        `mapstructure:"id_prefix"`
}

// ICEServer STUN/TURN сервер
type ICEServer struct {
	URLs       []string `mapstructure:"urls"`
	Username   string   `mapstructure:"username"`
	Credential string   `mapstructure:"credential"`
}

// MediaConfig параметры медиа движка
type MediaConfig struct {
	ICEServers []ICEServer `mapstructure:"ice_servers"`
	Audio      bool        `mapstructure:"audio"`
	Video      bool        `mapstructure:"video"`
}

// HTTPConfig адрес HTTP API
type HTTPConfig struct {
	Listen string `mapstructure:"listen"`
}

// Default возвращает конфигурацию с протокольными значениями по умолчанию
func Default() Config {
	return Config{
		Jingle: JingleConfig{
			StanzaTimeout: 10 * time.Second,
			MujiGrace:     2 * time.Second,
			IDPrefix:      "jj",
		},
		Media: MediaConfig{Audio: true},
		Log:   logger.Config{Level: "info", Format: logger.FormatConsole},
		HTTP:  HTTPConfig{Listen: ":8080"},
	}
}

// Load читает конфигурацию из файла path. Пустой путь означает только
// значения по умолчанию и переменные окружения.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "config: read %s", path)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "config: unmarshal")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// setDefaults регистрирует все ключи: AutomaticEnv находит только известные ключи
func setDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("identity.jid", "")
	v.SetDefault("transport.url", "")

	v.SetDefault("jingle.stanza_timeout", d.Jingle.StanzaTimeout)
	v.SetDefault("jingle.muji_grace", d.Jingle.MujiGrace)
	v.SetDefault("jingle.id_prefix", d.Jingle.IDPrefix)

	v.SetDefault("media.ice_servers", []map[string]any{})
	v.SetDefault("media.audio", d.Media.Audio)
	v.SetDefault("media.video", d.Media.Video)

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
	v.SetDefault("log.file.enabled", false)
	v.SetDefault("log.file.path", "")
	v.SetDefault("log.file.max_size_mb", 100)
	v.SetDefault("log.file.max_backups", 5)
	v.SetDefault("log.file.max_age_days", 30)
	v.SetDefault("log.file.compress", true)

	v.SetDefault("http.listen", d.HTTP.Listen)
}

// Validate проверяет значения конфигурации
func (c *Config) Validate() error {
	if c.Jingle.StanzaTimeout <= 0 {
		return errors.Errorf("config: jingle.stanza_timeout must be positive, got %s", c.Jingle.StanzaTimeout)
	}
	if c.Jingle.MujiGrace < 0 {
		return errors.Errorf("config: jingle.muji_grace must not be negative, got %s", c.Jingle.MujiGrace)
	}
	if c.Jingle.IDPrefix == "" || strings.Contains(c.Jingle.IDPrefix, "_") {
		return errors.Errorf("config: invalid jingle.id_prefix %q", c.Jingle.IDPrefix)
	}
	switch c.Log.Format {
	case logger.FormatConsole, logger.FormatJSON:
	default:
		return errors.Errorf("config: invalid log.format %q", c.Log.Format)
	}
	return nil
}
