package lobby

import (
	"errors"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/park285/netplay-matchmaker/pkg/matchproto"
	"go.uber.org/zap"
)

// ExpireIdle tears down matches with no committed action for longer than timeout
// and returns how many it closed.
func (l *Lobby) ExpireIdle(now time.Time, timeout time.Duration) int {
	if timeout <= 0 {
		return 0
	}
	n := 0
	for _, lm := range l.liveMatches() {
		lm.mu.Lock()
		if !lm.closed && now.Sub(lm.m.UpdatedAt) > timeout {
			l.teardownLocked(lm, matchproto.ReasonIdle, -1)
			n++
		}
		lm.mu.Unlock()
	}
	return n
}

// Sweeper is the lobby's periodic job: it logs Stats and, when an idle timeout
// is set, runs ExpireIdle.
type Sweeper struct {
	sched gocron.Scheduler
}

// NewSweeper schedules the job every interval. A zero timeout only logs stats.
// It does not start the scheduler.
func NewSweeper(l *Lobby, timeout, interval time.Duration) (*Sweeper, error) {
	if timeout < 0 {
		return nil, errors.New("idle timeout must not be negative")
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}
	sched, err := gocron.NewScheduler()
	if err != nil {
		return nil, err
	}
	_, err = sched.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(func() { l.sweep(timeout) }),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		_ = sched.Shutdown()
		return nil, err
	}
	return &Sweeper{sched: sched}, nil
}

func (s *Sweeper) Start() {
	if s != nil {
		s.sched.Start()
	}
}

func (s *Sweeper) Stop() error {
	if s == nil {
		return nil
	}
	return s.sched.Shutdown()
}

func (l *Lobby) sweep(timeout time.Duration) {
	if n := l.ExpireIdle(l.now(), timeout); n > 0 {
		l.log.Info("match_idle_sweep", zap.Int("expired", n), zap.Duration("timeout", timeout))
	}
	st := l.Stats()
	l.log.Debug("lobby_stats",
		zap.Int("connections", st.Connections),
		zap.Int("queued", st.Queued),
		zap.Int("live_matches", st.LiveMatches),
		zap.Duration("longest_wait", st.LongestWait),
	)
}
