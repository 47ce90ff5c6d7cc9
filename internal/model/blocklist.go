package model

// BlocklistSnapshot is an immutable view of the current blocking policy:
// the triple of sets {blocked paths, blocked team ids, blocked signing
// ids} consulted by the Policy Engine's blocklist check (spec §3, §4.2
// step 5). A new snapshot is built and atomically swapped in rather than
// mutated in place, so in-flight AUTH evaluations never observe a
// half-updated set.
type BlocklistSnapshot struct {
	Version           uint64
	BlockedPaths      map[string]struct{}
	BlockedTeamIDs    map[string]struct{}
	BlockedSigningIDs map[string]struct{}
}

// NewBlocklistSnapshot builds a snapshot from plain slices, deduplicating
// as it goes.
func NewBlocklistSnapshot(version uint64, paths, teamIDs, signingIDs []string) *BlocklistSnapshot {
	s := &BlocklistSnapshot{
		Version:           version,
		BlockedPaths:      make(map[string]struct{}, len(paths)),
		BlockedTeamIDs:    make(map[string]struct{}, len(teamIDs)),
		BlockedSigningIDs: make(map[string]struct{}, len(signingIDs)),
	}
	for _, p := range paths {
		s.BlockedPaths[p] = struct{}{}
	}
	for _, id := range teamIDs {
		s.BlockedTeamIDs[id] = struct{}{}
	}
	for _, id := range signingIDs {
		s.BlockedSigningIDs[id] = struct{}{}
	}
	return s
}

func (s *BlocklistSnapshot) HasPath(path string) bool {
	if s == nil {
		return false
	}
	_, ok := s.BlockedPaths[path]
	return ok
}

func (s *BlocklistSnapshot) HasTeamID(teamID string) bool {
	if s == nil {
		return false
	}
	_, ok := s.BlockedTeamIDs[teamID]
	return ok
}

func (s *BlocklistSnapshot) HasSigningID(id string) bool {
	if s == nil {
		return false
	}
	_, ok := s.BlockedSigningIDs[id]
	return ok
}
