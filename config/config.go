package config

import (
	"log"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

// MockSentinel 配置项填 "mock" 时对应 Provider 进入离线 mock 模式
const MockSentinel = "mock"

type Config struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`
	MySQL struct {
		DSN string `yaml:"dsn"` // 为空时使用内存存储（本地开发）
	} `yaml:"mysql"`

	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
	} `yaml:"redis"`

	MinIO struct {
		Endpoint  string `yaml:"endpoint"`
		AccessKey string `yaml:"access_key"`
		SecretKey string `yaml:"secret_key"`
		Bucket    string `yaml:"bucket"`
		UseSSL    bool   `yaml:"use_ssl"`
		Domain    string `yaml:"domain"`
	} `yaml:"minio"`

	// Providers 各外部生成服务的接入点；值为 "mock" 时走离线桩
	Providers struct {
		SceneAPI   string `yaml:"scene_api"`
		SceneKey   string `yaml:"scene_key"`
		UpscaleAPI string `yaml:"upscale_api"`
		UpscaleKey string `yaml:"upscale_key"` // 为空则跳过超分
		TTSAPI     string `yaml:"tts_api"`
		TTSKey     string `yaml:"tts_key"`
		AnimateAPI string `yaml:"animate_api"`
		AnimateKey string `yaml:"animate_key"`
		FFmpegBin  string `yaml:"ffmpeg_bin"`
	} `yaml:"providers"`

	Pipeline struct {
		MaxAttempts     int `yaml:"max_attempts"`      // 队列任务重试预算
		PollMaxAttempts int `yaml:"poll_max_attempts"` // 动画任务轮询次数上限
		PollIntervalSec int `yaml:"poll_interval_sec"`
		FetchTimeoutSec int `yaml:"fetch_timeout_sec"` // 拉取源图等普通下载
		CallTimeoutSec  int `yaml:"call_timeout_sec"`  // AI Provider 调用
	} `yaml:"pipeline"`
}

func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Pipeline.PollIntervalSec) * time.Second
}

func (c *Config) FetchTimeout() time.Duration {
	return time.Duration(c.Pipeline.FetchTimeoutSec) * time.Second
}

func (c *Config) CallTimeout() time.Duration {
	return time.Duration(c.Pipeline.CallTimeoutSec) * time.Second
}

var AppConfig *Config

func InitConfig() {
	path := os.Getenv("ADFORGE_CONFIG")
	if path == "" {
		path = "config/config.yaml"
	}
	f, err := os.Open(path)
	if err != nil {
		log.Fatalf("配置文件读取失败: %v", err)
	}
	defer f.Close()
	decoder := yaml.NewDecoder(f)
	AppConfig = &Config{}
	if err := decoder.Decode(AppConfig); err != nil {
		log.Fatalf("配置文件解析失败: %v", err)
	}
	applyEnvOverrides(AppConfig)
	ApplyDefaults(AppConfig)
}

// applyEnvOverrides 秘钥类配置允许环境变量覆盖（.env 由 main 加载）
func applyEnvOverrides(c *Config) {
	if v := os.Getenv("MYSQL_DSN"); v != "" {
		c.MySQL.DSN = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
	}
	if v := os.Getenv("MINIO_ACCESS_KEY"); v != "" {
		c.MinIO.AccessKey = v
	}
	if v := os.Getenv("MINIO_SECRET_KEY"); v != "" {
		c.MinIO.SecretKey = v
	}
	if v := os.Getenv("SCENE_API_KEY"); v != "" {
		c.Providers.SceneKey = v
	}
	if v := os.Getenv("UPSCALE_API_KEY"); v != "" {
		c.Providers.UpscaleKey = v
	}
	if v := os.Getenv("TTS_API_KEY"); v != "" {
		c.Providers.TTSKey = v
	}
	if v := os.Getenv("ANIMATE_API_KEY"); v != "" {
		c.Providers.AnimateKey = v
	}
}

// ApplyDefaults 补齐缺省值；测试中构造裸 Config 时也会调用
func ApplyDefaults(c *Config) {
	if c.Pipeline.MaxAttempts <= 0 {
		c.Pipeline.MaxAttempts = 3
	}
	if c.Pipeline.PollMaxAttempts <= 0 {
		c.Pipeline.PollMaxAttempts = 120
	}
	if c.Pipeline.PollIntervalSec <= 0 {
		c.Pipeline.PollIntervalSec = 5
	}
	if c.Pipeline.FetchTimeoutSec <= 0 {
		c.Pipeline.FetchTimeoutSec = 15
	}
	if c.Pipeline.CallTimeoutSec <= 0 {
		c.Pipeline.CallTimeoutSec = 60
	}
	if c.Providers.FFmpegBin == "" {
		c.Providers.FFmpegBin = "ffmpeg"
	}
}
