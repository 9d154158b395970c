package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"
)

// Config represents the application configuration
type Config struct {
	Browser  BrowserConfig  `toml:"browser"`
	Login    LoginConfig    `toml:"login"`
	Captcha  CaptchaConfig  `toml:"captcha"`
	OCR      OCRConfig      `toml:"ocr"`
	Telegram TelegramConfig `toml:"telegram"`
	Output   OutputConfig   `toml:"output"`
	Logging  LoggingConfig  `toml:"logging"`
}

// BrowserConfig selects the automation transport, the browser vendor and the profile
type BrowserConfig struct {
	Backend       string `toml:"backend" validate:"oneof=cdp rod webdriver"` // cdp (chromedp), rod (go-rod) or webdriver (chromedriver/msedgedriver)
	Vendor        string `toml:"vendor" validate:"oneof=chrome edge"`
	ProfileDir    string `toml:"profile_dir" validate:"required"` // Persistent user data dir (keeps login between runs)
	Headless      bool   `toml:"headless"`                        // Ignored until the profile is initialized
	ForceHeadless bool   `toml:"force_headless"`
	ChromeDriver  string `toml:"chromedriver"` // Path or directory of chromedriver (webdriver backend)
	ChromeBinary  string `toml:"chrome_binary"`
	EdgeDriver    string `toml:"edgedriver"` // Path or directory of msedgedriver (webdriver backend)
	EdgeBinary    string `toml:"edge_binary"`
	StartURL      string `toml:"start_url" validate:"required,url"`
}

// LoginConfig drives the sign-in flow
type LoginConfig struct {
	Mode        string `toml:"mode" validate:"oneof=qr account"`
	Account     string `toml:"account"`
	Password    string `toml:"password"`
	SecretsFile string `toml:"secrets"`                        // JSON file with account/password/telegram_* values
	Timeout     string `toml:"timeout" validate:"duration"`    // Overall wait for auth and for device/header capture
	AutoConnect bool   `toml:"auto_connect"`                   // Click the Connect button after login
	PollTick    string `toml:"poll_tick" validate:"duration"` // Auth polling resolution (default: 1s)
}

// CaptchaConfig controls challenge resolution
type CaptchaConfig struct {
	Mode                string `toml:"mode" validate:"oneof=auto manual off"`
	Timeout             string `toml:"timeout" validate:"duration"`
	Port                int    `toml:"port" validate:"min=0,max=65535"` // 0 = console input
	BaseURL             string `toml:"base_url"`                        // Host part of the input page URL sent through the relay
	PhoneVerifyTemplate string `toml:"phone_verify_template"`
}

// OCRConfig selects the image classifier used in auto mode
type OCRConfig struct {
	Backend  string `toml:"backend" validate:"oneof=none http gemini claude"`
	Endpoint string `toml:"endpoint"` // http backend: OCR service URL
	APIKey   string `toml:"api_key"`  // gemini/claude backends
	Model    string `toml:"model"`
	Timeout  string `toml:"timeout" validate:"duration"`
}

// TelegramConfig configures the SMS relay bot
type TelegramConfig struct {
	Token   string `toml:"token"`
	ChatID  string `toml:"chat_id"`
	Timeout string `toml:"timeout" validate:"omitempty,duration"` // Defaults to captcha timeout
	Test    bool   `toml:"test"`                                  // Send a test message on startup
	APIBase string `toml:"api_base" validate:"required,url"`
}

// OutputConfig controls the persisted artifact
type OutputConfig struct {
	Path       string `toml:"path" validate:"required"`
	CloseGrace string `toml:"close_grace" validate:"duration"` // Delay before closing the browser after a successful save
}

type LoggingConfig struct {
	Level  string   `toml:"level" validate:"oneof=trace debug info warn error"`
	Output []string `toml:"output"` // "stdout", "file"
}

// NewDefaultConfig creates a configuration with default values
func NewDefaultConfig() *Config {
	return &Config{
		Browser: BrowserConfig{
			Backend:      "cdp",
			Vendor:       "chrome",
			ProfileDir:   "./.browser-profile",
			ChromeDriver: "chromedriver",
			EdgeDriver:   "msedgedriver",
			StartURL:     "https://pc.ctyun.cn",
		},
		Login: LoginConfig{
			Mode:     "qr",
			Timeout:  "10m",
			PollTick: "1s",
		},
		Captcha: CaptchaConfig{
			Mode:                "auto",
			Timeout:             "2m",
			Port:                8000,
			BaseURL:             "http://127.0.0.1",
			PhoneVerifyTemplate: "./login-phone-verify.html",
		},
		OCR: OCRConfig{
			Backend: "none",
			Timeout: "20s",
		},
		Telegram: TelegramConfig{
			APIBase: "https://api.telegram.org",
		},
		Output: OutputConfig{
			Path:       "./config.json",
			CloseGrace: "5s",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Output: []string{"stdout"},
		},
	}
}

// LoadFromFiles loads configuration with priority: defaults -> file1 -> file2 -> ... -> env.
// CLI flags are applied by the caller afterwards.
func LoadFromFiles(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for i, path := range paths {
		if path == "" {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s (file %d of %d): %w", path, i+1, len(paths), err)
		}
	}

	applyEnvOverrides(config)

	return config, nil
}

// applyEnvOverrides applies KEEPLIVER_* environment variables to config
func applyEnvOverrides(config *Config) {
	if v := os.Getenv("KEEPLIVER_BACKEND"); v != "" {
		config.Browser.Backend = v
	}
	if v := os.Getenv("KEEPLIVER_BROWSER"); v != "" {
		config.Browser.Vendor = v
	}
	if v := os.Getenv("KEEPLIVER_PROFILE_DIR"); v != "" {
		config.Browser.ProfileDir = v
	}
	if v := os.Getenv("KEEPLIVER_HEADLESS"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			config.Browser.Headless = b
		}
	}
	if v := os.Getenv("KEEPLIVER_ACCOUNT"); v != "" {
		config.Login.Account = v
	}
	if v := os.Getenv("KEEPLIVER_PASSWORD"); v != "" {
		config.Login.Password = v
	}
	if v := os.Getenv("KEEPLIVER_SECRETS"); v != "" {
		config.Login.SecretsFile = v
	}
	if v := os.Getenv("KEEPLIVER_CAPTCHA_MODE"); v != "" {
		config.Captcha.Mode = v
	}
	if v := os.Getenv("KEEPLIVER_CAPTCHA_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			config.Captcha.Port = p
		}
	}
	if v := os.Getenv("KEEPLIVER_OCR_API_KEY"); v != "" {
		config.OCR.APIKey = v
	}
	if v := os.Getenv("KEEPLIVER_TELEGRAM_TOKEN"); v != "" {
		config.Telegram.Token = v
	}
	if v := os.Getenv("KEEPLIVER_TELEGRAM_CHAT_ID"); v != "" {
		config.Telegram.ChatID = v
	}
	if v := os.Getenv("KEEPLIVER_OUT"); v != "" {
		config.Output.Path = v
	}
	if v := os.Getenv("KEEPLIVER_LOG_LEVEL"); v != "" {
		config.Logging.Level = v
	}
	if v := os.Getenv("KEEPLIVER_LOG_OUTPUT"); v != "" {
		outputs := []string{}
		for _, o := range strings.Split(v, ",") {
			if trimmed := strings.TrimSpace(o); trimmed != "" {
				outputs = append(outputs, trimmed)
			}
		}
		if len(outputs) > 0 {
			config.Logging.Output = outputs
		}
	}
}

// Validate checks enum fields and duration strings
func (c *Config) Validate() error {
	v := validator.New()
	if err := v.RegisterValidation("duration", func(fl validator.FieldLevel) bool {
		d, err := time.ParseDuration(fl.Field().String())
		return err == nil && d > 0
	}); err != nil {
		return fmt.Errorf("failed to register duration validation: %w", err)
	}

	if err := v.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// Duration parses a validated duration string, falling back when empty or malformed
func Duration(value string, fallback time.Duration) time.Duration {
	if value == "" {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// LoginTimeout is the overall wait for auth and for device/header capture
func (c *Config) LoginTimeout() time.Duration {
	return Duration(c.Login.Timeout, 10*time.Minute)
}

// CaptchaTimeout is the wait for a single CAPTCHA or SMS input
func (c *Config) CaptchaTimeout() time.Duration {
	return Duration(c.Captcha.Timeout, 2*time.Minute)
}

// TelegramTimeout defaults to the captcha timeout
func (c *Config) TelegramTimeout() time.Duration {
	return Duration(c.Telegram.Timeout, c.CaptchaTimeout())
}
