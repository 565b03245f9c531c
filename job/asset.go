package job

// Asset is one media item to be uploaded. Immutable once assigned.
type Asset struct {
	ID      string `json:"id"`
	JobID   string `json:"job_id"`
	Path    string `json:"path"` // payload reference in the asset store
	Title   string `json:"title,omitempty"`
	Caption string `json:"caption,omitempty"`
	Used    bool   `json:"used"`
}
