package service

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/example/carmenu/internal/logging"
	"github.com/example/carmenu/internal/menu"
	"github.com/example/carmenu/internal/remoting"
)

const (
	defaultRestartDelay = 2 * time.Second
	shutdownTimeout     = 5 * time.Second
)

// headUnitSession is a connected session whose loss can be observed.
type headUnitSession interface {
	menu.Session
	Done() <-chan struct{}
	Err() error
	Close() error
}

type dialFunc func(ctx context.Context, onEvent remoting.EventHandler) (headUnitSession, error)

// sessionBinder is the part of the reconciler the supervisor drives.
type sessionBinder interface {
	AttachSession(ctx context.Context, session menu.Session) error
	Close(ctx context.Context) error
}

// sessionSupervisor keeps one head-unit session attached to the menu,
// redialling after restartDelay whenever the connection drops.
type sessionSupervisor struct {
	ctx          context.Context
	cancel       context.CancelFunc
	dial         dialFunc
	menu         sessionBinder
	onEvent      remoting.EventHandler
	restartDelay time.Duration
}

func newSessionSupervisor(parent context.Context, dial dialFunc, binder sessionBinder, onEvent remoting.EventHandler, restartDelay time.Duration) *sessionSupervisor {
	ctx, cancel := context.WithCancel(parent)
	if restartDelay <= 0 {
		restartDelay = defaultRestartDelay
	}
	return &sessionSupervisor{
		ctx:          ctx,
		cancel:       cancel,
		dial:         dial,
		menu:         binder,
		onEvent:      onEvent,
		restartDelay: restartDelay,
	}
}

func (s *sessionSupervisor) run() {
	defer s.cancel()

	for {
		if s.ctx.Err() != nil {
			s.shutdown(nil)
			return
		}

		sess, err := s.dial(s.ctx, s.onEvent)
		if err != nil {
			log.Printf("service: connect to head unit: %v", err)
			if !s.wait() {
				s.shutdown(nil)
				return
			}
			continue
		}

		if err := s.menu.AttachSession(s.ctx, sess); err != nil {
			log.Printf("service: attach head unit session: %v", err)
			_ = s.menu.AttachSession(s.ctx, nil)
			_ = sess.Close()
			if !s.wait() {
				s.shutdown(nil)
				return
			}
			continue
		}

		select {
		case <-s.ctx.Done():
			s.shutdown(sess)
			return
		case <-sess.Done():
		}

		if err := sess.Err(); err != nil && !errors.Is(err, remoting.ErrClosed) {
			log.Printf("service: head unit session ended: %v", err)
		}
		_ = s.menu.AttachSession(s.ctx, nil)

		if !s.wait() {
			s.shutdown(nil)
			return
		}
	}
}

// wait sleeps for the restart delay and reports whether to keep running.
func (s *sessionSupervisor) wait() bool {
	timer := time.NewTimer(s.restartDelay)
	defer timer.Stop()
	select {
	case <-s.ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// shutdown releases the root while the session is still connected, then
// closes it.
func (s *sessionSupervisor) shutdown(sess headUnitSession) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := s.menu.Close(ctx); err != nil {
		log.Printf("service: release menu: %v", err)
	}
	if sess != nil {
		if err := sess.Close(); err != nil {
			log.Printf("service: close head unit session: %v", err)
		}
	}
	logging.Debugf("service: session supervisor stopped")
}
