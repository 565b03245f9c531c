package job

// Snapshot is an immutable read of one job and its account tasks and assets,
// taken before the concurrent execution phase. The concurrent phase only
// exchanges in-memory results and never touches the store directly.
type Snapshot struct {
	Job    *Job
	Tasks  []*AccountTask
	Assets []Asset
}

// AssetByID indexes the snapshot's assets.
func (s *Snapshot) AssetByID() map[string]Asset {
	m := make(map[string]Asset, len(s.Assets))
	for _, a := range s.Assets {
		m[a.ID] = a
	}
	return m
}

// Accounts returns the account refs of the snapshot's tasks in stable order.
func (s *Snapshot) Accounts() []AccountRef {
	refs := make([]AccountRef, 0, len(s.Tasks))
	for _, t := range s.Tasks {
		refs = append(refs, t.Account)
	}
	return refs
}
