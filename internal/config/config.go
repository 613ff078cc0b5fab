package config

import (
	"flag"
	"fmt"
	"os"

	"github.com/ilyakaznacheev/cleanenv"
)

type Config struct {
	Env       string          `yaml:"env" env-default:"local"`
	HTTP      HTTPConfig      `yaml:"http"`
	WebRTC    WebRTCConfig    `yaml:"webrtc"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Auth      AuthConfig      `yaml:"auth"`
	Recording RecordingConfig `yaml:"recording"`
	Upload    UploadConfig    `yaml:"upload"`
}

type HTTPConfig struct {
	Address string `yaml:"address" env-default:""`
}

type WebRTCConfig struct {
	STUNServers []string `yaml:"stun_servers" env-default:""`
	AnnouncedIP string   `yaml:"announced_ip" env:"WEBRTC_ANNOUNCED_IP"`
	PortMin     uint16   `yaml:"port_min" env:"WEBRTC_PORT_MIN" env-default:"40000"`
	PortMax     uint16   `yaml:"port_max" env:"WEBRTC_PORT_MAX" env-default:"40999"`
}

// DatabaseConfig holds the relational store connection parameters. The core
// treats the store as a typed query surface (internal/repository); nothing
// here reaches for raw SQL.
type DatabaseConfig struct {
	Host     string `yaml:"host" env:"DB_HOST" env-default:"localhost"`
	Port     string `yaml:"port" env:"DB_PORT" env-default:"5432"`
	Name     string `yaml:"name" env:"DB_NAME" env-default:"meshcall"`
	User     string `yaml:"user" env:"DB_USER" env-default:"postgres"`
	Password string `yaml:"password" env:"DB_PASSWORD"`
	SSLMode  string `yaml:"sslmode" env:"DB_SSLMODE" env-default:"disable"`
}

func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

type RedisConfig struct {
	Addr     string `yaml:"addr" env:"REDIS_ADDR" env-default:"localhost:6379"`
	Password string `yaml:"password" env:"REDIS_PASSWORD"`
	DB       int    `yaml:"db" env:"REDIS_DB" env-default:"0"`
}

type AuthConfig struct {
	JWTSecret    string `yaml:"jwt_secret" env:"JWT_SECRET" env-required:"true"`
	JWTExpiresIn string `yaml:"jwt_expires_in" env:"JWT_EXPIRES_IN" env-default:"7d"`
}

// RecordingConfig parametrizes the auto-recording controller's output
// location, muxer binary and the UDP window its RTP taps bind into.
type RecordingConfig struct {
	OutputDir   string `yaml:"output_dir" env:"RECORDINGS_DIR" env-default:"recordings"`
	MuxerBinary string `yaml:"muxer_binary" env:"MUXER_BINARY" env-default:"ffmpeg"`
	UDPPortMin  int    `yaml:"udp_port_min" env:"RECORDING_UDP_PORT_MIN" env-default:"20000"`
	UDPPortMax  int    `yaml:"udp_port_max" env:"RECORDING_UDP_PORT_MAX" env-default:"29000"`
}

type UploadConfig struct {
	Dir      string `yaml:"dir" env:"UPLOADS_DIR" env-default:"uploads"`
	MaxBytes int64  `yaml:"max_bytes" env:"UPLOAD_MAX_BYTES" env-default:"26214400"`
}

func MustLoad() *Config {
	configPath := fetchConfigPath()
	if configPath == "" {
		panic("config path is empty")
	}

	return MustLoadPath(configPath)
}

func MustLoadPath(configPath string) *Config {
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		panic("config file does not exist: " + configPath)
	}

	var cfg Config

	if err := cleanenv.ReadConfig(configPath, &cfg); err != nil {
		panic("cannot read config: " + err.Error())
	}

	cfg.setDefaults()

	return &cfg
}

func fetchConfigPath() string {
	var res string

	flag.StringVar(&res, "config", "", "path to config file")
	flag.Parse()

	if res == "" {
		res = os.Getenv("CONFIG_PATH")
	}

	if res == "" {
		res = "config/local.yaml"
	}

	return res
}

func (c *Config) setDefaults() {
	if c.HTTP.Address == "" {
		if port := os.Getenv("PORT"); port != "" {
			c.HTTP.Address = ":" + port
		} else {
			c.HTTP.Address = ":3000"
		}
	}
	if len(c.WebRTC.STUNServers) == 0 {
		c.WebRTC.STUNServers = []string{"stun:stun.l.google.com:19302"}
	}
}
