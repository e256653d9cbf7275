package config

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	App      AppConfig     `mapstructure:"app"`
	Device   DeviceConfig  `mapstructure:"device"`
	HTTP     HTTPConfig    `mapstructure:"http"`
	Cache    CacheConfig   `mapstructure:"cache"`
	Journal  JournalConfig `mapstructure:"journal"`
	Server   ServerConfig  `mapstructure:"server"`
	Ethereum EthConfig     `mapstructure:"ethereum"`
	ERC20    TokenConfig   `mapstructure:"erc20"`
	Bitcoin  EsploraConfig `mapstructure:"bitcoin"`
	Litecoin EsploraConfig `mapstructure:"litecoin"`
	Tron     TronConfig    `mapstructure:"tron"`
}

type AppConfig struct {
	Env      string `mapstructure:"env"`
	LogLevel string `mapstructure:"log_level"`
}

// DeviceConfig 选择与签名设备的连接方式
type DeviceConfig struct {
	Transport  string        `mapstructure:"transport"`   // "sim" or "bridge"
	BridgeAddr string        `mapstructure:"bridge_addr"` // host:port of the USB bridge daemon
	Keystore   string        `mapstructure:"keystore"`    // 模拟设备的加密助记词文件
	Mnemonic   string        `mapstructure:"mnemonic"`    // 明文助记词 (仅限开发环境)
	Password   string        `mapstructure:"password"`    // Keystore 密码 (通常通过环境变量 KELVIN_DEVICE_PASSWORD 传入)
	Timeout    time.Duration `mapstructure:"timeout"`

	// AutoApprove 让模拟设备跳过确认提示 (仅用于脚本与测试)
	AutoApprove bool `mapstructure:"auto_approve"`
}

type HTTPConfig struct {
	Timeout time.Duration `mapstructure:"timeout"`
}

type CacheConfig struct {
	TTL           time.Duration `mapstructure:"ttl"`
	RedisAddr     string        `mapstructure:"redis_addr"` // 为空时只使用本地内存缓存
	RedisPassword string        `mapstructure:"redis_password"`
	RedisDB       int           `mapstructure:"redis_db"`
}

type JournalConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

type ServerConfig struct {
	HttpPort string `mapstructure:"http_port"`
}

// EthConfig 覆盖内置的以太坊网络端点，key 为网络名 (mainnet, sepolia, ...)
type EthConfig struct {
	RPC    map[string]string `mapstructure:"rpc"`
	APIURL string            `mapstructure:"api_url"` // Etherscan v2 API
	APIKey string            `mapstructure:"api_key"`
}

type TokenConfig struct {
	Symbol    string            `mapstructure:"symbol"`
	Decimals  int32             `mapstructure:"decimals"`
	Contracts map[string]string `mapstructure:"contracts"`
}

type EsploraConfig struct {
	API map[string]string `mapstructure:"api"`
}

type TronConfig struct {
	API    map[string]string `mapstructure:"api"`
	APIKey string            `mapstructure:"api_key"`
}

var Global Config

// Init 加载配置到 Global。path 为空时在默认目录中查找 kelvin.yaml
func Init(path string) error {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	}
	cfg, err := Load(v)
	if err != nil {
		return err
	}
	Global = cfg
	return nil
}

// Load reads the config file (if any), environment overrides and defaults.
func Load(v *viper.Viper) (Config, error) {
	// SetConfigName 会清掉 SetConfigFile 指定的文件, 只在未指定时搜索默认目录
	if v.ConfigFileUsed() == "" {
		v.SetConfigName("kelvin")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("$HOME/.kelvin")
	}
	v.SetConfigType("yaml")

	// 环境变量设置: KELVIN_DEVICE_PASSWORD -> device.password
	v.SetEnvPrefix("KELVIN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	var cfg Config
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return cfg, err
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.env", "development")
	v.SetDefault("app.log_level", "warn")

	v.SetDefault("device.transport", "sim")
	v.SetDefault("device.bridge_addr", "127.0.0.1:7420")
	v.SetDefault("device.keystore", "device.json")
	v.SetDefault("device.mnemonic", "")
	v.SetDefault("device.password", "")
	v.SetDefault("device.timeout", 60*time.Second)
	v.SetDefault("device.auto_approve", false)

	v.SetDefault("http.timeout", 15*time.Second)

	v.SetDefault("cache.ttl", 30*time.Second)
	v.SetDefault("cache.redis_addr", "")
	v.SetDefault("cache.redis_password", "")
	v.SetDefault("cache.redis_db", 0)

	v.SetDefault("journal.enabled", true)
	v.SetDefault("journal.path", "kelvin-journal.db")

	v.SetDefault("server.http_port", "8080")

	v.SetDefault("ethereum.api_url", "https://api.etherscan.io/v2/api")
	v.SetDefault("ethereum.api_key", "")

	v.SetDefault("erc20.symbol", "USDT")
	v.SetDefault("erc20.decimals", 6)
	v.SetDefault("erc20.contracts", map[string]string{
		"mainnet": "0xdAC17F958D2ee523a2206206994597C13D831ec7",
	})

	v.SetDefault("tron.api_key", "")
}
