package models

import (
	"encoding/json"
	"time"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in-progress"
	StatusCompleted  Status = "completed"
)

// StepKind is the kind of scaffolding work a step performs.
type StepKind int

// The numeric values match the frontend's reserved step types.
const (
	KindOverview     StepKind = -1
	KindCreateFile   StepKind = 0
	KindCreateFolder StepKind = 1
	KindEditFile     StepKind = 2
	KindDeleteFile   StepKind = 3
	KindRunScript    StepKind = 4
)

func (k StepKind) String() string {
	switch k {
	case KindOverview:
		return "Overview"
	case KindCreateFile:
		return "CreateFile"
	case KindCreateFolder:
		return "CreateFolder"
	case KindEditFile:
		return "EditFile"
	case KindDeleteFile:
		return "DeleteFile"
	case KindRunScript:
		return "RunScript"
	default:
		return "Unknown"
	}
}

type Step struct {
	ID          int      `json:"id"`
	Kind        StepKind `json:"type"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Status      Status   `json:"status"`
	Path        string   `json:"path,omitempty"`
	Content     string   `json:"code,omitempty"`
}

type NodeKind string

const (
	NodeFile   NodeKind = "file"
	NodeFolder NodeKind = "folder"
)

// FileNode is one entry of the synthesized tree. Path is the canonical
// "/a/b" form and is the dedup key within a parent.
type FileNode struct {
	ID       string      `json:"id"`
	Name     string      `json:"name"`
	Kind     NodeKind    `json:"type"`
	Path     string      `json:"path"`
	Content  string      `json:"content,omitempty"`
	Children []*FileNode `json:"children,omitempty"`
}

func (n *FileNode) IsFolder() bool { return n.Kind == NodeFolder }

// Project is the step list exposed to the UI. NextID is the id allocator
// shared by every merged batch.
type Project struct {
	Title  string `json:"title"`
	Steps  []Step `json:"steps"`
	NextID int    `json:"next_id"`
}

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type ChatMessage struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// MountEntry is one value of the sandbox mount structure: exactly one of
// File or Directory is set.
type MountEntry struct {
	File      *MountFile `json:"file,omitempty"`
	Directory MountTree  `json:"directory,omitempty"`
}

func (e *MountEntry) IsDir() bool { return e.File == nil }

// MarshalJSON keeps empty directories as {"directory":{}}.
func (e *MountEntry) MarshalJSON() ([]byte, error) {
	if e.File != nil {
		return json.Marshal(struct {
			File *MountFile `json:"file"`
		}{e.File})
	}
	dir := e.Directory
	if dir == nil {
		dir = MountTree{}
	}
	return json.Marshal(struct {
		Directory MountTree `json:"directory"`
	}{dir})
}

type MountFile struct {
	Contents string `json:"contents"`
}

type MountTree map[string]*MountEntry

// RelayMessage is the payload broadcast to the participants of a project room.
type RelayMessage struct {
	Text        string    `json:"text"`
	Sender      string    `json:"sender"`
	SenderEmail string    `json:"senderEmail"`
	Timestamp   time.Time `json:"timestamp"`
}

type ProjectRecord struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Users     []string  `json:"users"`
	CreatedAt time.Time `json:"created_at"`
}
