// Package session implements the persisted, transactional chat history
// store (spec §4.3), grounded on the connection-setup idiom of
// hazyhaar-GoClode's internal/core/db.go (WAL-journaled modernc.org/sqlite)
// and the truncation/rename semantics of the original SessionManager.
package session

// Attachment is a file or image attached to one message (spec §3).
type Attachment struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	Kind      string `json:"kind"`
	Mime      string `json:"mime,omitempty"`
	Content   string `json:"content"`
	Truncated bool   `json:"truncated"`
	Size      int64  `json:"size"`
}

// Message is one turn of a conversation (spec §3).
type Message struct {
	ID          int64             `json:"id"`
	Role        string            `json:"role"`
	Content     string            `json:"content"`
	Meta        map[string]any    `json:"meta,omitempty"`
	Attachments []Attachment      `json:"attachments,omitempty"`
	CreatedAt   int64             `json:"created_at"`
}

// Session is a conversation thread, persisted or temporary (spec §3).
type Session struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	IsTemporary bool   `json:"is_temporary"`
	CreatedAt   int64  `json:"created_at"`
	UpdatedAt   int64  `json:"updated_at"`
}

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

const (
	AttachmentKindText  = "text"
	AttachmentKindImage = "image"
)

// MaxTitleLen is the auto-truncation boundary for update_title (spec §4.3).
const MaxTitleLen = 30

// MaxTextAttachmentBytes is the per-file cap for text attachments (spec §6.5).
const MaxTextAttachmentBytes = 512 * 1024

// MaxImageAttachmentBytes is the per-PNG cap for pipeline-emitted images (spec §6.5).
const MaxImageAttachmentBytes = 5 * 1024 * 1024
