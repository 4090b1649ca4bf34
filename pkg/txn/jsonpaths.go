package txn

import (
	"sync"

	"github.com/stratadb/stratadb/pkg/version"
)

// jsonCommit records which paths one committed transaction touched on one
// JSON document, so a later-validating transaction can check for overlap
// against its own read paths instead of conflicting on the whole document.
type jsonCommit struct {
	version version.Version
	paths   []string
}

// jsonWriteLog is the per-JSON-key history of recent path-level writes,
// pruned down to the oldest version any active transaction could still need
// to validate against. Without this, JSON path-level conflict detection
// would degrade to whole-document conflict detection, since the store's
// version chain only holds merged document values, not the patch deltas
// that produced them.
type jsonWriteLog struct {
	mu  sync.Mutex
	log map[string][]jsonCommit
}

func newJSONWriteLog() *jsonWriteLog {
	return &jsonWriteLog{log: make(map[string][]jsonCommit)}
}

func (j *jsonWriteLog) record(encodedKey string, v version.Version, paths []string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.log[encodedKey] = append(j.log[encodedKey], jsonCommit{version: v, paths: paths})
}

// conflictsSince reports whether any commit after snapshot touched a path
// overlapping readPaths.
func (j *jsonWriteLog) conflictsSince(encodedKey string, snapshot version.Version, readPaths []string) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	for _, c := range j.log[encodedKey] {
		if c.version.Less(snapshot) || c.version.Compare(snapshot) == 0 {
			continue
		}
		if anyOverlap(readPaths, c.paths) {
			return true
		}
	}
	return false
}

// countSince reports how many commits after snapshot are recorded for
// encodedKey — compared against the key's chain growth to detect whole-
// document overwrites the path log never saw.
func (j *jsonWriteLog) countSince(encodedKey string, snapshot version.Version) int {
	j.mu.Lock()
	defer j.mu.Unlock()
	n := 0
	for _, c := range j.log[encodedKey] {
		if c.version.Value > snapshot.Value {
			n++
		}
	}
	return n
}

// prune drops every recorded commit older than floor, once no active
// transaction could still need it.
func (j *jsonWriteLog) prune(floor version.Version) {
	j.mu.Lock()
	defer j.mu.Unlock()
	for k, commits := range j.log {
		kept := commits[:0]
		for _, c := range commits {
			if !c.version.Less(floor) {
				kept = append(kept, c)
			}
		}
		if len(kept) == 0 {
			delete(j.log, k)
		} else {
			j.log[k] = kept
		}
	}
}
