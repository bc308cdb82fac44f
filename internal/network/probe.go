package network

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// ProbeMonitor detects connectivity by polling a health URL. Any
// HTTP response counts as online; transport errors count as offline.
type ProbeMonitor struct {
	state
	url      string
	interval time.Duration
	client   *http.Client
	logger   *zerolog.Logger
}

func NewProbeMonitor(url string, interval, timeout time.Duration, logger *zerolog.Logger) *ProbeMonitor {
	m := &ProbeMonitor{
		url:      url,
		interval: interval,
		client:   &http.Client{Timeout: timeout},
		logger:   logger,
	}
	// Assume online until the first probe says otherwise; starting
	// offline would wrongly reject online-only operations during boot.
	m.online = true
	return m
}

// SetOnline forces the state until the next probe overrides it.
func (m *ProbeMonitor) SetOnline(online bool) {
	m.set(online)
}

// Start polls until ctx is done. Runs the first probe immediately.
func (m *ProbeMonitor) Start(ctx context.Context) {
	m.logger.Debug().Str("url", m.url).Dur("interval", m.interval).Msg("network probe started")
	defer m.logger.Debug().Msg("network probe stopped")

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.probe(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.probe(ctx)
		}
	}
}

func (m *ProbeMonitor) probe(ctx context.Context) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, m.url, nil)
	if err != nil {
		m.logger.Error().Err(err).Msg("build probe request")
		return
	}

	resp, err := m.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		if m.Online() {
			m.logger.Warn().Err(err).Msg("connectivity lost")
		}
		m.set(false)
		return
	}
	resp.Body.Close()

	if !m.Online() {
		m.logger.Info().Msg("connectivity restored")
	}
	m.set(true)
}
