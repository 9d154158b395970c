package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/ternarybob/keepliver/internal/app"
	"github.com/ternarybob/keepliver/internal/common"
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Sign in and capture device info, connect headers and auth data",
	Long: `Opens the CTYUN web client in a persistent browser profile, signs in (QR code or
account), resolves CAPTCHA and SMS device verification, and writes the captured
connect URL, ctg-* headers, device info and auth bundle to the output file.

Exit codes: 0 success, 1 error, 2 timeout.`,
	RunE: runLogin,
}

// loginFlags mirrors the config fields a flag can override
type loginFlags struct {
	backend       string
	vendor        string
	profileDir    string
	timeout       string
	out           string
	chromeDriver  string
	chromeBinary  string
	edgeDriver    string
	edgeBinary    string
	autoConnect   bool
	loginMode     string
	account       string
	password      string
	secrets       string
	headless      bool
	forceHeadless bool

	captchaMode     string
	captchaTimeout  string
	captchaPort     int
	captchaBaseURL  string
	verifyTemplate  string
	telegramToken   string
	telegramChatID  string
	telegramTimeout string
	telegramTest    bool

	ocrBackend  string
	ocrEndpoint string
	ocrModel    string
	logLevel    string
}

var flagsLogin loginFlags

func init() {
	flagsLogin.bind(loginCmd)
}

func (lf *loginFlags) bind(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringVar(&lf.backend, "backend", "", "Automation backend: cdp, rod or webdriver")
	f.StringVar(&lf.vendor, "browser", "", "Browser: chrome or edge")
	f.StringVar(&lf.profileDir, "profile-dir", "", "Persistent browser profile directory")
	f.StringVar(&lf.timeout, "timeout", "", "Overall wait for login and capture (e.g. 10m)")
	f.StringVar(&lf.out, "out", "", "Output JSON path")
	f.StringVar(&lf.chromeDriver, "chromedriver", "", "chromedriver path or directory (webdriver backend)")
	f.StringVar(&lf.chromeBinary, "chrome-binary", "", "Chrome executable")
	f.StringVar(&lf.edgeDriver, "edgedriver", "", "msedgedriver path or directory (webdriver backend)")
	f.StringVar(&lf.edgeBinary, "edge-binary", "", "Edge executable")
	f.BoolVar(&lf.autoConnect, "auto-connect", false, "Click the desktop Connect button after login")
	f.StringVar(&lf.loginMode, "login-mode", "", "Login mode: qr or account")
	f.StringVar(&lf.account, "account", "", "Account for account login")
	f.StringVar(&lf.password, "password", "", "Password for account login")
	f.StringVar(&lf.secrets, "secrets", "", "Secrets JSON (account, password, telegram_token, telegram_chat_id)")
	f.BoolVar(&lf.headless, "headless", false, "Run headless once the profile is initialized")
	f.BoolVar(&lf.forceHeadless, "force-headless", false, "Run headless even with a fresh profile")

	f.StringVar(&lf.captchaMode, "captcha-mode", "", "CAPTCHA handling: auto, manual or off")
	f.StringVar(&lf.captchaTimeout, "captcha-timeout", "", "Wait for one CAPTCHA/SMS input (e.g. 2m)")
	f.IntVar(&lf.captchaPort, "captcha-port", 0, "Input page port; 0 reads codes from the console")
	f.StringVar(&lf.captchaBaseURL, "captcha-base-url", "", "Host part of the input page link sent through Telegram")
	f.StringVar(&lf.verifyTemplate, "phone-verify-template", "", "HTML template for the device verification page")
	f.StringVar(&lf.telegramToken, "telegram-token", "", "Telegram bot token")
	f.StringVar(&lf.telegramChatID, "telegram-chat-id", "", "Telegram chat id")
	f.StringVar(&lf.telegramTimeout, "telegram-timeout", "", "Wait for a Telegram reply (defaults to captcha-timeout)")
	f.BoolVar(&lf.telegramTest, "telegram-test", false, "Send a Telegram test message on startup")

	f.StringVar(&lf.ocrBackend, "ocr", "", "OCR classifier: none, http, gemini or claude")
	f.StringVar(&lf.ocrEndpoint, "ocr-endpoint", "", "OCR service URL (http classifier)")
	f.StringVar(&lf.ocrModel, "ocr-model", "", "Model name (gemini/claude classifiers)")
	f.StringVar(&lf.logLevel, "log-level", "", "Log level: trace, debug, info, warn or error")
}

// applyLoginFlags copies explicitly set flags over the loaded configuration
func applyLoginFlags(cmd *cobra.Command, lf *loginFlags, cfg *common.Config) {
	set := cmd.Flags().Changed
	str := func(name string, dst *string, v string) {
		if set(name) {
			*dst = v
		}
	}
	flag := func(name string, dst *bool, v bool) {
		if set(name) {
			*dst = v
		}
	}

	str("backend", &cfg.Browser.Backend, lf.backend)
	str("browser", &cfg.Browser.Vendor, lf.vendor)
	str("profile-dir", &cfg.Browser.ProfileDir, lf.profileDir)
	str("chromedriver", &cfg.Browser.ChromeDriver, lf.chromeDriver)
	str("chrome-binary", &cfg.Browser.ChromeBinary, lf.chromeBinary)
	str("edgedriver", &cfg.Browser.EdgeDriver, lf.edgeDriver)
	str("edge-binary", &cfg.Browser.EdgeBinary, lf.edgeBinary)
	flag("headless", &cfg.Browser.Headless, lf.headless)
	flag("force-headless", &cfg.Browser.ForceHeadless, lf.forceHeadless)

	str("timeout", &cfg.Login.Timeout, lf.timeout)
	str("login-mode", &cfg.Login.Mode, lf.loginMode)
	str("account", &cfg.Login.Account, lf.account)
	str("password", &cfg.Login.Password, lf.password)
	str("secrets", &cfg.Login.SecretsFile, lf.secrets)
	flag("auto-connect", &cfg.Login.AutoConnect, lf.autoConnect)

	str("captcha-mode", &cfg.Captcha.Mode, lf.captchaMode)
	str("captcha-timeout", &cfg.Captcha.Timeout, lf.captchaTimeout)
	str("captcha-base-url", &cfg.Captcha.BaseURL, lf.captchaBaseURL)
	str("phone-verify-template", &cfg.Captcha.PhoneVerifyTemplate, lf.verifyTemplate)
	if set("captcha-port") {
		cfg.Captcha.Port = lf.captchaPort
	}

	str("telegram-token", &cfg.Telegram.Token, lf.telegramToken)
	str("telegram-chat-id", &cfg.Telegram.ChatID, lf.telegramChatID)
	str("telegram-timeout", &cfg.Telegram.Timeout, lf.telegramTimeout)
	flag("telegram-test", &cfg.Telegram.Test, lf.telegramTest)

	str("ocr", &cfg.OCR.Backend, lf.ocrBackend)
	str("ocr-endpoint", &cfg.OCR.Endpoint, lf.ocrEndpoint)
	str("ocr-model", &cfg.OCR.Model, lf.ocrModel)
	str("out", &cfg.Output.Path, lf.out)
	str("log-level", &cfg.Logging.Level, lf.logLevel)
}

func runLogin(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	applyLoginFlags(cmd, &flagsLogin, cfg)

	logger := common.InitLogger(cfg)
	common.InstallCrashHandler(common.LogsDir())
	common.PrintBanner(common.GetVersion())

	logger.Debug().
		Str("backend", cfg.Browser.Backend).
		Str("browser", cfg.Browser.Vendor).
		Str("login_mode", cfg.Login.Mode).
		Str("captcha_mode", cfg.Captcha.Mode).
		Int("captcha_port", cfg.Captcha.Port).
		Str("ocr", cfg.OCR.Backend).
		Bool("telegram", cfg.Telegram.Token != "").
		Strs("log_output", cfg.Logging.Output).
		Msg("Resolved configuration (sanitized)")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	application, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to initialize")
		return &exitError{code: 1, err: err}
	}

	if err := application.Run(ctx); err != nil {
		logger.Error().Err(err).Str("run_id", application.RunID).Msg("Capture failed")
		return &exitError{code: app.ExitCode(err), err: err}
	}
	return nil
}
