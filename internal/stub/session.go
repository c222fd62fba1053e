package stub

import (
	"bytes"
	"context"
	"fmt"
	"math/rand/v2"
	"strconv"
	"sync"
	"time"

	"github.com/lgulliver/ncchup/internal/storage"
	"github.com/lgulliver/ncchup/pkg/types"
	"github.com/lgulliver/ncchup/pkg/utils"
	"github.com/rs/zerolog/log"
)

// HeaderSize is the size the stub expects for the initial submission
const HeaderSize = 0x200

// UploadSession is the server side of one upload
type UploadSession struct {
	ID         types.SessionID
	StartedAt  time.Time
	LastUpdate time.Time
	Header     []byte
	Chunks     [][]byte

	step     int
	finished bool
	mu       sync.Mutex
}

// SessionManager tracks upload sessions and answers them from a Script
type SessionManager struct {
	mu          sync.RWMutex
	sessions    map[types.SessionID]*UploadSession
	script      Script
	maxSessions int
	timeout     time.Duration
	capture     storage.CaptureStorage
}

// NewSessionManager creates a session manager
func NewSessionManager(script Script, maxSessions int, timeout time.Duration) *SessionManager {
	return &SessionManager{
		sessions:    make(map[types.SessionID]*UploadSession),
		script:      script,
		maxSessions: maxSessions,
		timeout:     timeout,
	}
}

// SetCapture makes the manager copy every received header and chunk into store
func (sm *SessionManager) SetCapture(store storage.CaptureStorage) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.capture = store
}

// CapturePath is where a session's header (step 0) or chunk is stored
func CapturePath(sessionID types.SessionID, step int, offset, length int64) string {
	if step == 0 {
		return fmt.Sprintf("sessions/%s/header.bin", sessionID)
	}
	return fmt.Sprintf("sessions/%s/%04d_0x%x_0x%x.bin", sessionID, step, offset, length)
}

// captureStore returns the capture target, nil when capture is off
func (sm *SessionManager) captureStore() storage.CaptureStorage {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.capture
}

// record stores a received block when capture is enabled; failures are only logged
func record(ctx context.Context, store storage.CaptureStorage, path string, data []byte) {
	if store == nil {
		return
	}

	if err := store.Store(ctx, path, bytes.NewReader(data)); err != nil {
		log.Error().Err(err).Str("path", path).Msg("failed to capture upload data")
	}
}

// StartUpload creates a session for a header block and returns the first reply
func (sm *SessionManager) StartUpload(ctx context.Context, header []byte) *types.ServerResponse {
	if len(header) != HeaderSize {
		log.Warn().Int("header_len", len(header)).Msg("unexpected header length")
		return types.Terminal(types.StatusUnexpectedLength, "")
	}

	sm.mu.Lock()
	if sm.maxSessions > 0 && len(sm.sessions) >= sm.maxSessions {
		sm.cleanupLocked(time.Now())
		if count := len(sm.sessions); count >= sm.maxSessions {
			sm.mu.Unlock()
			log.Error().Int("sessions", count).Msg("session capacity reached")
			return types.Terminal(types.StatusBusy, "")
		}
	}

	var sessionID types.SessionID
	for {
		sessionID = types.SessionID(strconv.FormatUint(uint64(rand.Uint32()), 10))
		if _, exists := sm.sessions[sessionID]; !exists {
			break
		}
	}

	now := time.Now()
	session := &UploadSession{
		ID:         sessionID,
		StartedAt:  now,
		LastUpdate: now,
		Header:     append([]byte(nil), header...),
	}
	// the first reply is settled before the id becomes reachable by appends
	resp := sm.next(session)
	sm.sessions[sessionID] = session
	store := sm.capture
	sm.mu.Unlock()

	log.Info().
		Str("session_id", string(sessionID)).
		Str("checksum", utils.ComputeSHA256(header)).
		Msg("started upload session")

	record(ctx, store, CapturePath(sessionID, 0, 0, int64(len(header))), header)
	return resp
}

// GetSession retrieves an upload session
func (sm *SessionManager) GetSession(sessionID types.SessionID) (*UploadSession, bool) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	session, exists := sm.sessions[sessionID]
	return session, exists
}

// AppendChunk records a requested range and returns the next reply
func (sm *SessionManager) AppendChunk(ctx context.Context, sessionID types.SessionID, data []byte) *types.ServerResponse {
	session, exists := sm.GetSession(sessionID)
	if !exists {
		log.Warn().Str("session_id", string(sessionID)).Msg("upload session not found")
		return types.Terminal(types.StatusNotFound, "")
	}
	store := sm.captureStore()

	// lock order is sm.mu before session.mu; never take sm.mu while holding session.mu
	session.mu.Lock()
	defer session.mu.Unlock()

	session.LastUpdate = time.Now()
	if session.finished {
		return types.Terminal(types.StatusAlreadyFinished, "")
	}

	want := sm.script.Requests[session.step-1]
	if int64(len(data)) != want.Len {
		log.Warn().
			Str("session_id", string(sessionID)).
			Int64("want_len", want.Len).
			Int("got_len", len(data)).
			Msg("unexpected chunk length")
		session.finished = true
		return types.Terminal(types.StatusUnexpectedLength, "")
	}

	session.Chunks = append(session.Chunks, append([]byte(nil), data...))

	log.Debug().
		Str("session_id", string(sessionID)).
		Int64("offset", want.Offset).
		Int("chunk_size", len(data)).
		Str("checksum", utils.ComputeSHA256(data)).
		Msg("appended chunk to upload session")

	record(ctx, store, CapturePath(sessionID, session.step, want.Offset, want.Len), data)

	return sm.next(session)
}

// next returns the reply for the session's current step; callers hold session.mu or own an unpublished session
func (sm *SessionManager) next(session *UploadSession) *types.ServerResponse {
	if session.step < len(sm.script.Requests) {
		r := sm.script.Requests[session.step]
		session.step++
		return types.AppendNeeded(session.ID, r.Offset, r.Len)
	}

	session.finished = true
	log.Info().
		Str("session_id", string(session.ID)).
		Str("status", string(sm.script.Final)).
		Int("chunks", len(session.Chunks)).
		Msg("upload session finished")
	return types.Terminal(sm.script.Final, sm.script.NcchID)
}

// Snapshot returns copies of the received header and chunks
func (sm *SessionManager) Snapshot(sessionID types.SessionID) (header []byte, chunks [][]byte, ok bool) {
	session, exists := sm.GetSession(sessionID)
	if !exists {
		return nil, nil, false
	}

	session.mu.Lock()
	defer session.mu.Unlock()

	chunks = make([][]byte, len(session.Chunks))
	for i, c := range session.Chunks {
		chunks[i] = append([]byte(nil), c...)
	}
	return append([]byte(nil), session.Header...), chunks, true
}

// Count returns the number of tracked sessions
func (sm *SessionManager) Count() int {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return len(sm.sessions)
}

// Cleanup removes sessions idle for longer than the session timeout
func (sm *SessionManager) Cleanup() int {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.cleanupLocked(time.Now())
}

func (sm *SessionManager) cleanupLocked(now time.Time) int {
	removed := 0
	for id, session := range sm.sessions {
		session.mu.Lock()
		idle := now.Sub(session.LastUpdate)
		session.mu.Unlock()

		if idle > sm.timeout {
			delete(sm.sessions, id)
			removed++
		}
	}
	if removed > 0 {
		log.Info().Int("removed", removed).Int("remaining", len(sm.sessions)).Msg("cleaned up idle upload sessions")
	}
	return removed
}

// RunCleanup removes idle sessions every interval until ctx is done
func (sm *SessionManager) RunCleanup(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sm.Cleanup()
		}
	}
}
