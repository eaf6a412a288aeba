package protocol

// ReportPayload carries one sampling interval of access counts for an
// application.
type ReportPayload struct {
	AppName         string           `msgpack:"appName" json:"appName"`
	Timestamp       int64            `msgpack:"timestamp" json:"timestamp"`
	KeyAccessCounts map[string]int32 `msgpack:"keyAccessCounts" json:"keyAccessCounts"`
	InstanceID      string           `msgpack:"instanceId,omitempty" json:"instanceId,omitempty"`
}

// QueryRequest asks for every application whose hot-key version is newer
// than the one listed. Missing entries count as version 0.
type QueryRequest struct {
	LastVersions map[string]int64 `msgpack:"lastVersions" json:"lastVersions"`
}

// ViewsPayload is the body of a query response and of a push. Query
// entries are full snapshots in HotKeys; push entries carry exactly one of
// AddedKey or RemovedKey.
type ViewsPayload struct {
	Views map[string]ViewEntry `msgpack:"views" json:"views"`
}

type ViewEntry struct {
	Version int64 `msgpack:"version" json:"version"`
	// PrevVersion is the version a diff was computed against; zero means
	// unknown and the diff is applied on version order alone.
	PrevVersion int64    `msgpack:"prevVersion,omitempty" json:"prevVersion,omitempty"`
	HotKeys     []string `msgpack:"hotKeys,omitempty" json:"hotKeys,omitempty"`
	AddedKey    string   `msgpack:"addedKey,omitempty" json:"addedKey,omitempty"`
	RemovedKey  string   `msgpack:"removedKey,omitempty" json:"removedKey,omitempty"`
}

func (e ViewEntry) IsDiff() bool { return e.AddedKey != "" || e.RemovedKey != "" }

type RegisterPayload struct {
	AppName    string `msgpack:"appName" json:"appName"`
	InstanceID string `msgpack:"instanceId,omitempty" json:"instanceId,omitempty"`
}
