package state

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// stateVersion is the current on-disk layout version. StateStore.Read
// rejects any file whose header version it doesn't recognize.
const stateVersion uint32 = 1

// KeeperState is the persisted record of a keeper's observed and assigned
// role. Timestamps are epoch seconds, 0 meaning "never".
type KeeperState struct {
	PgVersion         string
	PgControlVersion  uint32
	SystemIdentifier   uint64
	CurrentNodeID     int64
	CurrentGroup      int32
	CurrentRole       NodeState
	AssignedRole      NodeState
	LastMonitorContact  int64
	LastSecondaryContact int64
	XlogLagBytes      int64
	PgIsRunning       bool
	SyncState         string
}

// maxStringField bounds the two free-form strings so a corrupt length
// prefix can never cause an enormous allocation on read.
const maxStringField = 64

// Encode serializes the record into the fixed-layout binary format used by
// StateStore: a version header followed by fixed-width fields and two
// length-prefixed strings.
func (k KeeperState) Encode() ([]byte, error) {
	if !k.CurrentRole.Valid() {
		return nil, fmt.Errorf("encode keeper state: invalid current_role %d", k.CurrentRole)
	}
	if !k.AssignedRole.Valid() {
		return nil, fmt.Errorf("encode keeper state: invalid assigned_role %d", k.AssignedRole)
	}
	if len(k.PgVersion) > maxStringField || len(k.SyncState) > maxStringField {
		return nil, fmt.Errorf("encode keeper state: string field exceeds %d bytes", maxStringField)
	}

	var buf bytes.Buffer
	write := func(v any) {
		// binary.Write only fails for unsupported types; every type passed
		// below is fixed-width, so the error is unreachable.
		_ = binary.Write(&buf, binary.BigEndian, v)
	}

	write(stateVersion)
	write(uint32(len(k.PgVersion)))
	buf.WriteString(k.PgVersion)
	write(k.PgControlVersion)
	write(k.SystemIdentifier)
	write(k.CurrentNodeID)
	write(k.CurrentGroup)
	write(int32(k.CurrentRole))
	write(int32(k.AssignedRole))
	write(k.LastMonitorContact)
	write(k.LastSecondaryContact)
	write(k.XlogLagBytes)
	write(k.PgIsRunning)
	write(uint32(len(k.SyncState)))
	buf.WriteString(k.SyncState)

	return buf.Bytes(), nil
}

// Decode parses a record produced by Encode. Unknown version headers and
// truncated/oversized records are rejected rather than partially decoded.
func Decode(data []byte) (KeeperState, error) {
	var k KeeperState
	r := bytes.NewReader(data)

	var version uint32
	if err := binary.Read(r, binary.BigEndian, &version); err != nil {
		return k, fmt.Errorf("decode keeper state: read version: %w", err)
	}
	if version != stateVersion {
		return k, fmt.Errorf("decode keeper state: unknown version %d", version)
	}

	pgVersion, err := readLengthPrefixedString(r)
	if err != nil {
		return k, fmt.Errorf("decode keeper state: pg_version: %w", err)
	}
	k.PgVersion = pgVersion

	for _, field := range []any{
		&k.PgControlVersion,
		&k.SystemIdentifier,
		&k.CurrentNodeID,
		&k.CurrentGroup,
	} {
		if err := binary.Read(r, binary.BigEndian, field); err != nil {
			return k, fmt.Errorf("decode keeper state: %w", err)
		}
	}

	var currentRole, assignedRole int32
	if err := binary.Read(r, binary.BigEndian, &currentRole); err != nil {
		return k, fmt.Errorf("decode keeper state: current_role: %w", err)
	}
	if err := binary.Read(r, binary.BigEndian, &assignedRole); err != nil {
		return k, fmt.Errorf("decode keeper state: assigned_role: %w", err)
	}
	k.CurrentRole = NodeState(currentRole)
	k.AssignedRole = NodeState(assignedRole)
	if !k.CurrentRole.Valid() {
		return k, fmt.Errorf("decode keeper state: unknown current_role %d", currentRole)
	}
	if !k.AssignedRole.Valid() {
		return k, fmt.Errorf("decode keeper state: unknown assigned_role %d", assignedRole)
	}

	for _, field := range []any{
		&k.LastMonitorContact,
		&k.LastSecondaryContact,
		&k.XlogLagBytes,
		&k.PgIsRunning,
	} {
		if err := binary.Read(r, binary.BigEndian, field); err != nil {
			return k, fmt.Errorf("decode keeper state: %w", err)
		}
	}

	syncState, err := readLengthPrefixedString(r)
	if err != nil {
		return k, fmt.Errorf("decode keeper state: sync_state: %w", err)
	}
	k.SyncState = syncState

	return k, nil
}

func readLengthPrefixedString(r *bytes.Reader) (string, error) {
	var length uint32
	if err := binary.Read(r, binary.BigEndian, &length); err != nil {
		return "", err
	}
	if length > maxStringField {
		return "", fmt.Errorf("length %d exceeds max field size %d", length, maxStringField)
	}
	buf := make([]byte, length)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

// StateStore is the durable, crash-atomic read/write contract for
// KeeperState.
type StateStore interface {
	Read() (KeeperState, error)
	Write(KeeperState) error
}

// FileStateStore implements StateStore on top of a single on-disk file,
// using the sibling-temp-file-then-rename technique so that a crash at any
// point leaves the file containing either the prior or the new record,
// never a torn mix (tested in TestFileStateStore_CrashAtByteOffset).
type FileStateStore struct {
	path string
}

func NewFileStateStore(path string) *FileStateStore {
	return &FileStateStore{path: path}
}

func (f *FileStateStore) Read() (KeeperState, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		return KeeperState{}, fmt.Errorf("read state file %q: %w", f.path, err)
	}
	k, err := Decode(data)
	if err != nil {
		return KeeperState{}, fmt.Errorf("state file %q: %w", f.path, err)
	}
	return k, nil
}

func (f *FileStateStore) Write(k KeeperState) error {
	data, err := k.Encode()
	if err != nil {
		return fmt.Errorf("write state file %q: %w", f.path, err)
	}

	tmpPath := f.path + ".new"
	tmp, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("create temp state file %q: %w", tmpPath, err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp state file %q: %w", tmpPath, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("fsync temp state file %q: %w", tmpPath, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp state file %q: %w", tmpPath, err)
	}

	if err := os.Rename(tmpPath, f.path); err != nil {
		return fmt.Errorf("rename %q to %q: %w", tmpPath, f.path, err)
	}

	// Best-effort: fsync the containing directory too, so the rename
	// itself survives a crash, not just the data it points at.
	if dir, err := os.Open(filepath.Dir(f.path)); err == nil {
		_ = dir.Sync()
		_ = dir.Close()
	}

	return nil
}

// InitMarkerPath returns the sibling "first boot in progress" marker file
// for a given state file path.
func InitMarkerPath(statePath string) string {
	return filepath.Join(filepath.Dir(statePath), "pg_autoctl.init")
}
