package downloader

import (
	"errors"
	"time"
)

// Config yt-dlp 配置
type Config struct {
	// Binary yt-dlp 可执行文件
	Binary string `mapstructure:"binary" yaml:"binary"`

	// Timeout 单次下载超时，0 表示只受 ctx 控制
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`

	// Cookies 平台 -> cookie 文件
	Cookies map[string]string `mapstructure:"cookies" yaml:"cookies"`

	// WaitDelay ctx 取消后等待子进程退出的时间
	WaitDelay time.Duration `mapstructure:"wait_delay" yaml:"wait_delay"`
}

func DefaultConfig() *Config {
	return &Config{
		Binary:    "yt-dlp",
		Timeout:   10 * time.Minute,
		Cookies:   map[string]string{"youtube": "cookies/cookie.txt"},
		WaitDelay: 5 * time.Second,
	}
}

// Validate 验证配置
func (c *Config) Validate() error {
	if c.Binary == "" {
		return errors.New("downloader: binary is required")
	}
	if c.Timeout < 0 {
		return errors.New("downloader: timeout must not be negative")
	}
	if c.WaitDelay <= 0 {
		c.WaitDelay = 5 * time.Second
	}
	return nil
}
