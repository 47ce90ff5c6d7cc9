package ipc

import (
	"fmt"

	"github.com/sentineledr/core/internal/history"
)

// HistoryVerifier satisfies CodeSignVerifier by consulting the History
// Store's ProcessTable. Since the monitor already observes every
// process's code-signing identity at fork time (spec §3's
// ProcessRecord), the IPC surface can authenticate its own consumer
// process the same way it evaluates any other process, with no
// additional signing API call.
type HistoryVerifier struct {
	history *history.Store
}

func NewHistoryVerifier(hs *history.Store) *HistoryVerifier {
	return &HistoryVerifier{history: hs}
}

func (v *HistoryVerifier) VerifyProcess(pid uint32, req CodeSignRequirement) (bool, error) {
	rec, found := v.history.Process(int32(pid))
	if !found {
		return false, fmt.Errorf("pid %d not present in process table", pid)
	}
	if req.TeamID != "" && rec.TeamID != req.TeamID {
		return false, nil
	}
	if req.SigningID != "" && rec.SigningID != req.SigningID {
		return false, nil
	}
	return true, nil
}
