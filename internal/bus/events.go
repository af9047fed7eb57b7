package bus

import "time"

// Event is anything that can travel over the bus. EventType doubles
// as the wire "type" discriminator on the WebSocket.
type Event interface {
	EventType() string
}

// Filesystem event types.
const (
	TypeCreated  = "created"
	TypeDeleted  = "deleted"
	TypeModified = "modified"
	TypeMoved    = "moved"
)

// Pipeline event types.
const (
	TypeIndexStatus   = "index_status"
	TypeIndexComplete = "index_complete"
	TypeSyncStatus    = "sync_status"
	TypePing          = "ping"
)

// FileChanged reports a filesystem mutation under the managed root.
type FileChanged struct {
	Type    string `json:"type"`
	Path    string `json:"path"`
	OldPath string `json:"old_path,omitempty"`
	IsDir   bool   `json:"is_dir"`
}

func (e FileChanged) EventType() string { return e.Type }

// IndexStatus reports a folder's index status transition.
type IndexStatus struct {
	Path   string `json:"path"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

func (IndexStatus) EventType() string { return TypeIndexStatus }

// IndexComplete summarizes a finished folder scan.
type IndexComplete struct {
	Path         string `json:"path"`
	FilesIndexed int    `json:"files_indexed"`
	TotalChunks  int    `json:"total_chunks"`
}

func (IndexComplete) EventType() string { return TypeIndexComplete }

// SyncStatus reports a folder's sync state transition.
type SyncStatus struct {
	Path         string `json:"path"`
	Status       string `json:"status"`
	Error        string `json:"error,omitempty"`
	AuthRequired bool   `json:"auth_required,omitempty"`
}

func (SyncStatus) EventType() string { return TypeSyncStatus }

// ProviderConnected signals a completed OAuth exchange for a provider.
// Its wire type is "{provider}_connected".
type ProviderConnected struct {
	Provider   string `json:"provider"`
	FolderPath string `json:"folder_path"`
}

func (e ProviderConnected) EventType() string { return e.Provider + "_connected" }

// Ping is the WebSocket keepalive.
type Ping struct {
	At time.Time `json:"at"`
}

func (Ping) EventType() string { return TypePing }
