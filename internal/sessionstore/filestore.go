package sessionstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/opencode-ai/opencode/pkg/types"
)

// toolCallRecord is the on-disk shape for a persisted tool call: the call
// itself plus whatever result/error UpdateToolCall has attached so far.
type toolCallRecord struct {
	SessionID string             `json:"sessionID"`
	Call      types.ToolCall     `json:"call"`
	Update    *ToolCallUpdate    `json:"update,omitempty"`
}

// FileStore is a JSON-file-backed Store: one document per session under
// sessions/{id}.json, one document per persisted event under
// events/{id}/{sequence}.json, one per message under messages/{id}/{msgID}.json,
// and one per tool call under toolcalls/{id}.json — mirroring the logical
// persisted layout in the expanded spec while reusing the teacher's
// atomic-write file engine.
type FileStore struct {
	kv *fileKV

	mu       sync.Mutex // serialises per-session sequence allocation across processes-in-this-process
	seqCache map[string]uint64
}

// NewFileStore returns a Store persisting under basePath.
func NewFileStore(basePath string) *FileStore {
	return &FileStore{kv: newFileKV(basePath), seqCache: make(map[string]uint64)}
}

func (f *FileStore) CreateSession(ctx context.Context, cfg types.SessionConfig) (types.Session, error) {
	now := time.Now().UTC().UnixMilli()
	id := ulid.Make().String()
	sess := types.Session{
		ID:     id,
		Config: cfg,
		State:  types.SessionState{ApprovedTools: make(map[string]bool)},
		Time:   types.SessionTime{Created: now, Updated: now},
	}
	if err := f.kv.put([]string{"sessions", id}, sess); err != nil {
		return types.Session{}, newStorageError("CreateSession", ErrTransport, err)
	}
	return sess, nil
}

func (f *FileStore) GetSession(ctx context.Context, id string) (types.Session, error) {
	var sess types.Session
	if err := f.kv.get([]string{"sessions", id}, &sess); err != nil {
		if errors.Is(err, ErrNotFound) {
			return types.Session{}, newStorageError("GetSession", ErrNotFound, err)
		}
		return types.Session{}, newStorageError("GetSession", ErrTransport, err)
	}
	return sess, nil
}

func (f *FileStore) UpdateSession(ctx context.Context, session types.Session) error {
	if !f.kv.exists([]string{"sessions", session.ID}) {
		return newStorageError("UpdateSession", ErrNotFound, fmt.Errorf("session %q", session.ID))
	}
	session.Time.Updated = time.Now().UTC().UnixMilli()
	if err := f.kv.put([]string{"sessions", session.ID}, session); err != nil {
		return newStorageError("UpdateSession", ErrTransport, err)
	}
	return nil
}

func (f *FileStore) DeleteSession(ctx context.Context, id string) error {
	if err := f.kv.delete([]string{"sessions", id}); err != nil {
		return newStorageError("DeleteSession", ErrTransport, err)
	}
	_ = f.kv.delete([]string{"events", id})
	_ = f.kv.delete([]string{"messages", id})
	return nil
}

func (f *FileStore) ListSessions(ctx context.Context, filter ListFilter) ([]SessionInfo, error) {
	ids, err := f.kv.list([]string{"sessions"})
	if err != nil {
		return nil, newStorageError("ListSessions", ErrTransport, err)
	}
	infos := make([]SessionInfo, 0, len(ids))
	for _, id := range ids {
		var sess types.Session
		if err := f.kv.get([]string{"sessions", id}, &sess); err != nil {
			continue
		}
		infos = append(infos, SessionInfo{ID: sess.ID, Title: sess.Title, CreatedAt: sess.Time.Created, UpdatedAt: sess.Time.Updated})
	}

	sort.Slice(infos, func(i, j int) bool {
		var a, b int64
		if filter.OrderBy == OrderByUpdatedAt {
			a, b = infos[i].UpdatedAt, infos[j].UpdatedAt
		} else {
			a, b = infos[i].CreatedAt, infos[j].CreatedAt
		}
		if filter.Direction == Descending {
			return a > b
		}
		return a < b
	})

	if filter.Offset > 0 && filter.Offset < len(infos) {
		infos = infos[filter.Offset:]
	} else if filter.Offset >= len(infos) {
		infos = nil
	}
	if filter.Limit > 0 && filter.Limit < len(infos) {
		infos = infos[:filter.Limit]
	}
	return infos, nil
}

func (f *FileStore) AppendMessage(ctx context.Context, sessionID string, msg types.Message) error {
	path := []string{"messages", sessionID, msg.ID}
	if f.kv.exists(path) {
		return nil // idempotent on message.id
	}
	if err := f.kv.put(path, msg); err != nil {
		return newStorageError("AppendMessage", ErrTransport, err)
	}
	return nil
}

func (f *FileStore) GetMessages(ctx context.Context, sessionID string, limit int) ([]types.Message, error) {
	ids, err := f.kv.list([]string{"messages", sessionID})
	if err != nil {
		return nil, newStorageError("GetMessages", ErrTransport, err)
	}
	// Message filenames are message ids, not a sequence; order by the time
	// field persisted in each document so storage (append) order is
	// reconstructed even though the filesystem directory order is not
	// guaranteed to match.
	msgs := make([]types.Message, 0, len(ids))
	for _, id := range ids {
		var m types.Message
		if err := f.kv.get([]string{"messages", sessionID, id}, &m); err != nil {
			continue
		}
		msgs = append(msgs, m)
	}
	sort.SliceStable(msgs, func(i, j int) bool { return msgs[i].Time.Created < msgs[j].Time.Created })
	if limit > 0 && limit < len(msgs) {
		msgs = msgs[len(msgs)-limit:]
	}
	return msgs, nil
}

func (f *FileStore) AppendEvent(ctx context.Context, sessionID string, event types.StreamEvent) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	seq, err := f.currentSequenceLocked(sessionID)
	if err != nil {
		return 0, err
	}
	seq++

	if err := f.kv.put([]string{"events", sessionID, strconv.FormatUint(seq, 10)}, event); err != nil {
		return 0, newStorageError("AppendEvent", ErrTransport, err)
	}
	f.seqCache[sessionID] = seq
	return seq, nil
}

func (f *FileStore) currentSequenceLocked(sessionID string) (uint64, error) {
	if seq, ok := f.seqCache[sessionID]; ok {
		return seq, nil
	}
	ids, err := f.kv.list([]string{"events", sessionID})
	if err != nil {
		return 0, newStorageError("AppendEvent", ErrTransport, err)
	}
	var max uint64
	for _, id := range ids {
		n, err := strconv.ParseUint(id, 10, 64)
		if err == nil && n > max {
			max = n
		}
	}
	f.seqCache[sessionID] = max
	return max, nil
}

func (f *FileStore) CreateToolCall(ctx context.Context, sessionID string, call types.ToolCall) error {
	rec := toolCallRecord{SessionID: sessionID, Call: call}
	if err := f.kv.put([]string{"toolcalls", call.ID}, rec); err != nil {
		return newStorageError("CreateToolCall", ErrTransport, err)
	}
	return nil
}

func (f *FileStore) UpdateToolCall(ctx context.Context, toolCallID string, update ToolCallUpdate) error {
	var rec toolCallRecord
	if err := f.kv.get([]string{"toolcalls", toolCallID}, &rec); err != nil {
		if errors.Is(err, ErrNotFound) {
			return newStorageError("UpdateToolCall", ErrNotFound, err)
		}
		return newStorageError("UpdateToolCall", ErrTransport, err)
	}
	rec.Update = &update
	if err := f.kv.put([]string{"toolcalls", toolCallID}, rec); err != nil {
		return newStorageError("UpdateToolCall", ErrTransport, err)
	}
	return nil
}
