package session

import (
	"encoding/json"
	"os"
)

// legacyFile mirrors the flat JSON store the original Python SessionManager
// wrote to disk before this repo's relational store existed.
type legacyFile struct {
	Sessions         map[string]legacySession `json:"sessions"`
	CurrentSessionID string                   `json:"current_session_id"`
}

type legacySession struct {
	Title   string          `json:"title"`
	History []legacyMessage `json:"history"`
}

type legacyMessage struct {
	Role          string         `json:"role"`
	Content       string         `json:"content"`
	ThinkDuration any            `json:"think_duration,omitempty"`
	Meta          map[string]any `json:"meta,omitempty"`
}

// migrateLegacyJSON imports legacyPath into the relational store exactly
// once: only when the sessions table is empty and the file exists (spec
// §4.3, §8 "idempotent"). All imported sessions become persistent; any
// think_duration metadata survives in the message's meta bag (spec §9 open
// question). The legacy file is renamed with a .bak suffix afterward, which
// also guards re-runs: a second call finds no legacy file and is a no-op.
func (s *Store) migrateLegacyJSON(legacyPath string) error {
	if legacyPath == "" {
		return nil
	}
	data, err := os.ReadFile(legacyPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	var count int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM sessions`).Scan(&count); err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	var legacy legacyFile
	if err := json.Unmarshal(data, &legacy); err != nil {
		// Malformed legacy file: leave it alone, don't fail startup.
		return nil
	}

	now := nowUnix()
	for sid, sess := range legacy.Sessions {
		if _, err := s.db.Exec(
			`INSERT INTO sessions (id, title, is_temporary, created_at, updated_at) VALUES (?, ?, 0, ?, ?)`,
			sid, sess.Title, now, now,
		); err != nil {
			return err
		}
		for _, m := range sess.History {
			meta := m.Meta
			if m.ThinkDuration != nil {
				if meta == nil {
					meta = map[string]any{}
				}
				meta["think_duration"] = m.ThinkDuration
			}
			metaJSON := "{}"
			if meta != nil {
				b, err := json.Marshal(meta)
				if err != nil {
					return err
				}
				metaJSON = string(b)
			}
			if _, err := s.db.Exec(
				`INSERT INTO messages (session_id, role, content, meta, created_at) VALUES (?, ?, ?, ?, ?)`,
				sid, m.Role, m.Content, metaJSON, now,
			); err != nil {
				return err
			}
		}
	}

	if legacy.CurrentSessionID != "" {
		if err := s.setAppStateLocked("current_session_id", legacy.CurrentSessionID); err != nil {
			return err
		}
	}

	return os.Rename(legacyPath, legacyPath+".bak")
}
