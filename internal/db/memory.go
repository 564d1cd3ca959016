package db

import (
	"context"
	"sort"
	"sync"
	"time"

	"backsim/internal/market"
)

// Memory is an in-memory Storage for tests and one-shot runs that do
// not need a database.
type Memory struct {
	mu      sync.RWMutex
	bars    map[string][]market.Bar // keyed by ticker|timeframe
	signals []market.Signal
	runs    []RunSummary
	nextID  int64
}

var _ Storage = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{
		bars:   make(map[string][]market.Bar),
		nextID: 1,
	}
}

func barKey(ticker, timeframe string) string {
	return ticker + "|" + timeframe
}

func (m *Memory) SaveBars(_ context.Context, bars []market.Bar, timeframe string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, b := range bars {
		if err := b.Validate(); err != nil {
			return err
		}
		key := barKey(b.Ticker, timeframe)
		existing := m.bars[key]

		replaced := false
		for i := range existing {
			if existing[i].Timestamp.Equal(b.Timestamp) {
				existing[i] = b
				replaced = true
				break
			}
		}
		if !replaced {
			existing = append(existing, b)
		}
		sort.Slice(existing, func(i, j int) bool {
			return existing[i].Timestamp.Before(existing[j].Timestamp)
		})
		m.bars[key] = existing
	}
	return nil
}

func (m *Memory) GetBars(_ context.Context, ticker, timeframe string, start, end time.Time) ([]market.Bar, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []market.Bar
	for _, b := range m.bars[barKey(ticker, timeframe)] {
		if !b.Timestamp.Before(start) && b.Timestamp.Before(end) {
			out = append(out, b)
		}
	}
	return out, nil
}

func (m *Memory) GetLatestBar(_ context.Context, ticker, timeframe string) (*market.Bar, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	bars := m.bars[barKey(ticker, timeframe)]
	if len(bars) == 0 {
		return nil, nil
	}
	b := bars[len(bars)-1]
	return &b, nil
}

func (m *Memory) SaveSignals(_ context.Context, signals []market.Signal) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, s := range signals {
		if err := s.Validate(); err != nil {
			return err
		}
		replaced := false
		for i := range m.signals {
			if m.signals[i].Ticker == s.Ticker &&
				m.signals[i].Strategy == s.Strategy &&
				m.signals[i].Timestamp.Equal(s.Timestamp) {
				m.signals[i] = s
				replaced = true
				break
			}
		}
		if !replaced {
			m.signals = append(m.signals, s)
		}
	}

	sort.Slice(m.signals, func(i, j int) bool {
		return m.signals[i].Timestamp.Before(m.signals[j].Timestamp)
	})
	return nil
}

func (m *Memory) GetSignals(_ context.Context, ticker string, start, end time.Time) ([]market.Signal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []market.Signal
	for _, s := range m.signals {
		if s.Ticker != ticker {
			continue
		}
		if !s.Timestamp.Before(start) && s.Timestamp.Before(end) {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *Memory) SaveRun(_ context.Context, run RunSummary) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	run.ID = m.nextID
	m.nextID++
	m.runs = append(m.runs, run)
	return run.ID, nil
}

func (m *Memory) GetRuns(_ context.Context, ticker string, limit int) ([]RunSummary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if limit <= 0 {
		limit = 20
	}

	var out []RunSummary
	for i := len(m.runs) - 1; i >= 0 && len(out) < limit; i-- {
		if m.runs[i].Ticker == ticker {
			out = append(out, m.runs[i])
		}
	}
	return out, nil
}
