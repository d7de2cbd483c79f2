// Package conflict provides last-write-wins resolution between a local
// record and its server counterpart.
package conflict

import (
	"encoding/json"

	"github.com/joselitz123/budget-planner/internal/models"
)

// Winner identifies which side of a conflict survives.
type Winner string

const (
	WinnerLocal  Winner = "local"
	WinnerServer Winner = "server"
)

// Resolution is the outcome of resolving one conflict.
type Resolution struct {
	Winner Winner
	Data   json.RawMessage // snapshot that should be persisted
}

type timestamped struct {
	UpdatedAt string `json:"updatedAt"`
}

// Resolve decides between a local and a server snapshot of the same
// record by comparing updatedAt instants. The server wins ties, and
// missing or unparseable timestamps compare as the zero instant, so two
// timestampless snapshots also resolve to the server copy.
//
// Resolve is pure: no I/O, no side effects, total over all inputs.
func Resolve(local, server json.RawMessage) Resolution {
	var l, s timestamped
	_ = json.Unmarshal(local, &l)
	_ = json.Unmarshal(server, &s)

	localAt := models.ParseTimestamp(l.UpdatedAt)
	serverAt := models.ParseTimestamp(s.UpdatedAt)

	if localAt.After(serverAt) {
		return Resolution{Winner: WinnerLocal, Data: local}
	}
	return Resolution{Winner: WinnerServer, Data: server}
}
