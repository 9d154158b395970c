package inputserver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/keepliver/internal/common"
)

// ErrConsoleMode is returned for port 0: no socket is opened and the caller reads from the console
var ErrConsoleMode = errors.New("input server disabled: console mode")

const shutdownGrace = 2 * time.Second

// Variant selects the fields a page collects
type Variant string

const (
	VariantCaptcha   Variant = "captcha"    // single code field
	VariantVerify    Variant = "verify"     // image code and SMS code
	VariantVerifySMS Variant = "verify-sms" // SMS code only
)

// Options configures one input server
type Options struct {
	Port     int
	ImageB64 string
	Template string // optional page template for the verify variants
	Variant  Variant
}

// Submission is what the human typed. Empty submissions are never delivered.
type Submission struct {
	ImageCode string
	SMSCode   string
}

// Server is a one-shot local page that collects a code typed by a human.
// The first non-empty submission wins; later ones are acknowledged and dropped.
type Server struct {
	srv         *http.Server
	listener    net.Listener
	served      chan struct{}
	port        int
	variant     Variant
	page        string
	submissions chan Submission
	done        chan struct{}
	closeOnce   sync.Once
	logger      arbor.ILogger
}

// Serve opens the input page on opts.Port, falling back to an ephemeral port when it is busy
func Serve(ctx context.Context, opts Options, logger arbor.ILogger) (*Server, error) {
	if opts.Port == 0 {
		return nil, ErrConsoleMode
	}
	if opts.Variant == "" {
		opts.Variant = VariantCaptcha
	}

	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", opts.Port))
	if err != nil {
		logger.Warn().Err(err).Int("port", opts.Port).Msg("Input port busy, using an ephemeral port")
		listener, err = net.Listen("tcp", ":0")
		if err != nil {
			return nil, fmt.Errorf("failed to open input server: %w", err)
		}
	}

	s := &Server{
		listener:    listener,
		served:      make(chan struct{}),
		port:        listener.Addr().(*net.TCPAddr).Port,
		variant:     opts.Variant,
		submissions: make(chan Submission, 1),
		done:        make(chan struct{}),
		logger:      logger,
	}
	switch opts.Variant {
	case VariantCaptcha:
		s.page = RenderCaptchaPage(opts.ImageB64)
	default:
		s.page = RenderVerifyPage(opts.Template, opts.ImageB64, opts.Variant == VariantVerifySMS)
	}

	router := chi.NewRouter()
	router.Use(middleware.Recoverer)
	router.Get("/", s.handlePage)
	router.Post("/submit", s.handleSubmit)

	s.srv = &http.Server{
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	common.SafeGo(logger, "inputserver.serve", func() {
		defer close(s.served)
		if err := s.srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn().Err(err).Int("port", s.port).Msg("Input server stopped")
		}
	})
	common.SafeGo(logger, "inputserver.watch", func() {
		select {
		case <-ctx.Done():
			s.Close()
		case <-s.done:
		}
	})

	logger.Info().Str("variant", string(s.variant)).Int("port", s.port).Msg("Input server listening")
	return s, nil
}

// Port returns the bound port
func (s *Server) Port() int {
	return s.port
}

// URL joins the configured base (scheme and host) with the bound port
func (s *Server) URL(base string) string {
	base = strings.TrimRight(strings.TrimSpace(base), "/")
	if base == "" {
		base = "http://127.0.0.1"
	}
	return fmt.Sprintf("%s:%d", base, s.port)
}

// Wait blocks until the first submission, timeout or ctx cancellation, then shuts the server down
func (s *Server) Wait(ctx context.Context, timeout time.Duration) (Submission, bool) {
	defer s.Close()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case sub := <-s.submissions:
		return sub, true
	case <-timer.C:
		return Submission{}, false
	case <-ctx.Done():
		return Submission{}, false
	case <-s.done:
		// Closed elsewhere; a submission may still be buffered
		select {
		case sub := <-s.submissions:
			return sub, true
		default:
			return Submission{}, false
		}
	}
}

// Close stops the server and releases the port. Safe to call more than once.
func (s *Server) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
		ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if err := s.srv.Shutdown(ctx); err != nil {
			s.logger.Debug().Err(err).Msg("Input server shutdown forced")
			_ = s.srv.Close()
		}
		// Shutdown only closes listeners Serve has started tracking
		if err := s.listener.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			s.logger.Debug().Err(err).Msg("Input listener close failed")
		}
		<-s.served
	})
}

func (s *Server) handlePage(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(s.page))
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err == nil {
		if sub, ok := s.decode(r); ok {
			select {
			case s.submissions <- sub:
				s.logger.Info().Str("variant", string(s.variant)).Msg("Code received from input page")
			default:
			}
		}
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (s *Server) decode(r *http.Request) (Submission, bool) {
	code := strings.TrimSpace(r.PostForm.Get("code"))
	img := strings.TrimSpace(r.PostForm.Get("img_code"))
	sms := strings.TrimSpace(r.PostForm.Get("sms_code"))

	if s.variant == VariantCaptcha {
		for _, v := range []string{code, img, sms} {
			if v != "" {
				return Submission{ImageCode: v}, true
			}
		}
		return Submission{}, false
	}

	if img == "" && sms == "" && code != "" {
		if s.variant == VariantVerifySMS {
			sms = code
		} else {
			img = code
		}
	}
	if img == "" && sms == "" {
		return Submission{}, false
	}
	return Submission{ImageCode: img, SMSCode: sms}, true
}
