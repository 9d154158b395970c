package browser

import (
	"context"
	"fmt"
	"sync"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/keepliver/internal/interfaces"
)

type launchFunc func(ctx context.Context, opts Options, profileDir string, headless bool, logger arbor.ILogger) (interfaces.BrowserDriver, error)

var launchers = map[Backend]launchFunc{
	BackendCDP:       startCDP,
	BackendRod:       startRod,
	BackendWebDriver: startWebDriver,
}

// Session owns one running browser
type Session struct {
	driver     interfaces.BrowserDriver
	profileDir string
	headless   bool
	logger     arbor.ILogger

	stopOnce sync.Once
	stopErr  error
}

// NewSession wraps a running driver
func NewSession(driver interfaces.BrowserDriver, profileDir string, headless bool, logger arbor.ILogger) *Session {
	return &Session{
		driver:     driver,
		profileDir: profileDir,
		headless:   headless,
		logger:     logger,
	}
}

// Start prepares the profile, applies the headless policy and launches the backend.
// Missing executables are reported as ErrExecutableNotFound.
func Start(ctx context.Context, opts Options, logger arbor.ILogger) (*Session, error) {
	opts = opts.withDefaults()
	if err := opts.validate(); err != nil {
		return nil, err
	}

	profileDir, initialized, err := PrepareProfile(opts.ProfileDir)
	if err != nil {
		return nil, err
	}

	headless, downgraded := effectiveHeadless(opts.Headless, opts.ForceHeadless, initialized)
	if downgraded {
		logger.Warn().
			Str("profile_dir", profileDir).
			Msg("Profile has not been used yet; starting with a visible window for the first login (use --force-headless to override)")
	}

	logger.Info().
		Str("backend", string(opts.Backend)).
		Str("browser", string(opts.Vendor)).
		Str("profile_dir", profileDir).
		Bool("headless", headless).
		Msg("Starting browser")

	launch, ok := launchers[opts.Backend]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, opts.Backend)
	}
	driver, err := launch(ctx, opts, profileDir, headless, logger)
	if err != nil {
		return nil, err
	}
	return NewSession(driver, profileDir, headless, logger), nil
}

// Driver returns the backend
func (s *Session) Driver() interfaces.BrowserDriver {
	return s.driver
}

func (s *Session) ProfileDir() string {
	return s.profileDir
}

func (s *Session) Headless() bool {
	return s.headless
}

// Stop releases the browser. It is safe to call more than once; later calls return the
// first result.
func (s *Session) Stop() error {
	s.stopOnce.Do(func() {
		s.stopErr = s.driver.Close()
		if s.stopErr != nil {
			s.logger.Warn().Err(s.stopErr).Str("backend", s.driver.Name()).Msg("Browser did not close cleanly")
			return
		}
		s.logger.Info().Str("backend", s.driver.Name()).Msg("Browser closed")
	})
	return s.stopErr
}
