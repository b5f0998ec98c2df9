package sim

import (
	"github.com/lavdgo/lavdgo/internal/classify"
	"github.com/lavdgo/lavdgo/internal/pertask"
)

// GameDetector is a scripted stand-in for spec.md §6(1)'s excluded
// process/window-based game-detection collaborator: it designates a
// foreground workload by tgid and its thread membership, directly
// against a live classify.Classifier, with no window-manager or
// process-scanning logic of its own.
type GameDetector struct {
	Classifier *classify.Classifier
}

// NewGameDetector wires a GameDetector to the classifier it drives.
func NewGameDetector(clf *classify.Classifier) *GameDetector {
	return &GameDetector{Classifier: clf}
}

// Designate sets tgid as the foreground workload and marks every
// thread in ids as belonging to it, matching the §6(1) contract
// ("sets fg_tgid ... and a flat list of thread identities ... pushed
// to a game-thread membership structure").
func (g *GameDetector) Designate(tgid uint32, ids []pertask.ID) {
	g.Classifier.SetForeground(tgid)
	for _, id := range ids {
		g.Classifier.MarkGameThread(id)
	}
}

// AddThread marks a single additional thread as belonging to the
// current foreground workload, e.g. when the game spawns a worker.
func (g *GameDetector) AddThread(id pertask.ID) {
	g.Classifier.MarkGameThread(id)
}

// Clear removes the foreground designation (fg_tgid = 0) and forgets
// the given threads, e.g. on game exit.
func (g *GameDetector) Clear(ids []pertask.ID) {
	g.Classifier.SetForeground(0)
	for _, id := range ids {
		g.Classifier.UnmarkGameThread(id)
	}
}
