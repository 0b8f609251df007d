// Package settings persists per-operator UI state: compose drafts,
// preferences, and the last selected thread. Saves are debounced and written
// atomically under a file lock so concurrent processes do not clobber each
// other.
package settings

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"
)

const (
	CurrentVersion = 1

	defaultDebounce = 1 * time.Second
	draftMaxAge     = 30 * 24 * time.Hour
)

// State is the persisted shape. Drafts are keyed by thread ID.
type State struct {
	Version      int             `json:"version"`
	Drafts       map[int64]Draft `json:"drafts,omitempty"`
	Preferences  Preferences     `json:"preferences,omitempty"`
	MutedThreads []int64         `json:"muted_threads,omitempty"`
	LastThreadID int64           `json:"last_thread_id,omitempty"`
}

// Draft is unsent compose text for one thread.
type Draft struct {
	ThreadID  int64     `json:"thread_id"`
	Body      string    `json:"body,omitempty"`
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

// Preferences holds operator-facing toggles.
type Preferences struct {
	SoundAlerts  bool `json:"sound_alerts,omitempty"`
	RelativeTime bool `json:"relative_time,omitempty"`
}

// Manager owns the state file. All accessors are safe for concurrent use.
type Manager struct {
	path     string
	lockPath string

	mu        sync.Mutex
	state     State
	dirty     bool
	timer     *time.Timer
	debounce  time.Duration
	lastWrite time.Time
}

func New(path string) *Manager {
	path = strings.TrimSpace(path)
	return &Manager{
		path:     path,
		lockPath: path + ".lock",
		state: State{
			Version: CurrentVersion,
			Drafts:  make(map[int64]Draft),
		},
		debounce: defaultDebounce,
	}
}

func (m *Manager) Path() string { return m.path }

func (m *Manager) Load() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.path == "" {
		return nil
	}

	loaded, err := m.loadLocked()
	if err != nil {
		return err
	}
	m.state = loaded
	m.dirty = false
	return nil
}

func (m *Manager) Snapshot() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return cloneState(m.state)
}

func (m *Manager) Draft(threadID int64) (Draft, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if threadID <= 0 || len(m.state.Drafts) == 0 {
		return Draft{}, false
	}
	draft, ok := m.state.Drafts[threadID]
	if !ok {
		return Draft{}, false
	}
	return draft, true
}

func (m *Manager) SetDraft(draft Draft) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if draft.ThreadID <= 0 {
		return
	}
	if strings.TrimSpace(draft.Body) == "" {
		m.deleteDraftLocked(draft.ThreadID)
		return
	}
	if m.state.Drafts == nil {
		m.state.Drafts = make(map[int64]Draft)
	}
	if draft.UpdatedAt.IsZero() {
		draft.UpdatedAt = time.Now().UTC()
	}
	m.state.Drafts[draft.ThreadID] = draft
	m.markDirtyLocked()
}

func (m *Manager) DeleteDraft(threadID int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleteDraftLocked(threadID)
}

func (m *Manager) deleteDraftLocked(threadID int64) {
	if threadID <= 0 || len(m.state.Drafts) == 0 {
		return
	}
	if _, ok := m.state.Drafts[threadID]; !ok {
		return
	}
	delete(m.state.Drafts, threadID)
	m.markDirtyLocked()
}

func (m *Manager) Preferences() Preferences {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.Preferences
}

func (m *Manager) SetPreferences(prefs Preferences) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state.Preferences == prefs {
		return
	}
	m.state.Preferences = prefs
	m.markDirtyLocked()
}

func (m *Manager) Muted(threadID int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range m.state.MutedThreads {
		if id == threadID {
			return true
		}
	}
	return false
}

func (m *Manager) SetMuted(threadID int64, muted bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if threadID <= 0 {
		return
	}
	idx := -1
	for i, id := range m.state.MutedThreads {
		if id == threadID {
			idx = i
			break
		}
	}
	switch {
	case muted && idx < 0:
		m.state.MutedThreads = append(m.state.MutedThreads, threadID)
		sort.Slice(m.state.MutedThreads, func(i, j int) bool {
			return m.state.MutedThreads[i] < m.state.MutedThreads[j]
		})
	case !muted && idx >= 0:
		m.state.MutedThreads = append(m.state.MutedThreads[:idx], m.state.MutedThreads[idx+1:]...)
	default:
		return
	}
	m.markDirtyLocked()
}

func (m *Manager) LastThreadID() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.LastThreadID
}

func (m *Manager) SetLastThreadID(threadID int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if threadID <= 0 || m.state.LastThreadID == threadID {
		return
	}
	m.state.LastThreadID = threadID
	m.markDirtyLocked()
}

func (m *Manager) SaveSoon() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.markDirtyLocked()
}

func (m *Manager) Close() error {
	m.mu.Lock()
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	needsSave := m.dirty
	m.mu.Unlock()
	if !needsSave {
		return nil
	}
	return m.SaveNow()
}

func (m *Manager) SaveNow() error {
	m.mu.Lock()
	if m.path == "" {
		m.mu.Unlock()
		return nil
	}
	state := cloneState(m.state)
	m.dirty = false
	m.mu.Unlock()

	state.Version = CurrentVersion
	state = normalizeState(state, time.Now().UTC())

	if err := withFileLock(m.lockPath, func() error {
		return writeAtomicJSON(m.path, state)
	}); err != nil {
		m.mu.Lock()
		m.dirty = true
		m.mu.Unlock()
		return err
	}

	m.mu.Lock()
	m.lastWrite = time.Now().UTC()
	m.mu.Unlock()
	return nil
}

func (m *Manager) markDirtyLocked() {
	m.dirty = true
	if m.path == "" {
		return
	}
	if m.timer == nil {
		m.timer = time.AfterFunc(m.debounce, func() {
			_ = m.SaveNow()
		})
		return
	}
	_ = m.timer.Reset(m.debounce)
}

func (m *Manager) loadLocked() (State, error) {
	var out State
	if err := withFileLock(m.lockPath, func() error {
		payload, err := os.ReadFile(m.path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				out = State{Version: CurrentVersion}
				return nil
			}
			return err
		}
		if len(payload) == 0 {
			out = State{Version: CurrentVersion}
			return nil
		}
		return json.Unmarshal(payload, &out)
	}); err != nil {
		return State{}, err
	}

	if out.Version <= 0 {
		out.Version = CurrentVersion
	}
	if out.Drafts == nil {
		out.Drafts = make(map[int64]Draft)
	}
	return out, nil
}

func withFileLock(lockPath string, fn func() error) error {
	if strings.TrimSpace(lockPath) == "" {
		return fn()
	}
	if err := os.MkdirAll(filepath.Dir(lockPath), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX); err != nil {
		return fmt.Errorf("lock %s: %w", lockPath, err)
	}
	defer func() {
		_ = syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
	}()
	return fn()
}

func writeAtomicJSON(path string, state State) error {
	payload, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, payload, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func normalizeState(state State, now time.Time) State {
	if state.Drafts == nil {
		state.Drafts = make(map[int64]Draft)
	}

	// Drop stale and empty drafts.
	for id, draft := range state.Drafts {
		if id <= 0 || strings.TrimSpace(draft.Body) == "" {
			delete(state.Drafts, id)
			continue
		}
		if !draft.UpdatedAt.IsZero() && now.Sub(draft.UpdatedAt) > draftMaxAge {
			delete(state.Drafts, id)
		}
	}

	if len(state.MutedThreads) > 0 {
		seen := make(map[int64]struct{}, len(state.MutedThreads))
		out := make([]int64, 0, len(state.MutedThreads))
		for _, id := range state.MutedThreads {
			if id <= 0 {
				continue
			}
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, id)
		}
		sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
		state.MutedThreads = out
	}

	return state
}

func cloneState(state State) State {
	out := state
	if state.Drafts != nil {
		out.Drafts = make(map[int64]Draft, len(state.Drafts))
		for k, v := range state.Drafts {
			out.Drafts[k] = v
		}
	}
	if len(state.MutedThreads) > 0 {
		out.MutedThreads = append([]int64(nil), state.MutedThreads...)
	}
	return out
}
