// Package aggregate holds the redaction machinery shared by every
// controlled aggregate: visibility decisions against a controller map and
// removal-with-reconnection of hidden interior nodes.
package aggregate

import (
	"github.com/cultivarhq/cultivar/modules/core/domain/access"
	"github.com/cultivarhq/cultivar/pkg/graph"
)

// Visible reports whether the viewer may read the given controlled model.
// A model without a controller row is treated as hidden; the store
// guarantees one controller per model, so absence means the caller was
// not meant to see it.
func Visible(controllers access.ControllerMap, key access.Key, userID int64, readTeams []int64) bool {
	controller, ok := controllers.Get(key)
	if !ok {
		return false
	}
	return controller.HasAccess(access.Read, userID, readTeams)
}

// RedactRooted clones g and removes every node the viewer may not read,
// reconnecting children to parents so the visible shape is preserved.
// When the root itself is hidden and cannot be removed without splitting
// the graph, placeholder substitutes a structural stand-in; a nil
// placeholder hides the whole aggregate instead. ok is false when
// nothing remains visible.
func RedactRooted[T access.ControlledModel](
	g *graph.Rooted[T],
	copyModel func(T) T,
	placeholder func(T) T,
	controllers access.ControllerMap,
	userID int64,
	readTeams []int64,
) (*graph.Rooted[T], bool) {
	anyVisible := false
	hidden := make(map[int64]bool)
	for _, id := range g.IDs() {
		model, _ := g.GetEntry(id)
		if Visible(controllers, access.Key{Label: model.Label(), ID: model.ID()}, userID, readTeams) {
			anyVisible = true
		} else {
			hidden[id] = true
		}
	}
	if !anyVisible {
		return nil, false
	}
	clone := g.Clone(copyModel)
	// Leaves-up keeps reconnection local: a hidden chain collapses onto
	// the nearest visible ancestor.
	ids := clone.IDs()
	for i := len(ids) - 1; i >= 0; i-- {
		id := ids[i]
		if !hidden[id] {
			continue
		}
		if err := clone.RemoveAndReconnect(id); err != nil {
			if placeholder == nil {
				return nil, false
			}
			model, _ := clone.GetEntry(id)
			_ = clone.Replace(id, placeholder(model))
		}
	}
	if clone.Len() == 0 {
		return nil, false
	}
	return clone, true
}

// RedactTree is RedactRooted for tree aggregates.
func RedactTree[T access.ControlledModel](
	t *graph.Tree[T],
	copyModel func(T) T,
	placeholder func(T) T,
	controllers access.ControllerMap,
	userID int64,
	readTeams []int64,
) (*graph.Tree[T], bool) {
	anyVisible := false
	hidden := make(map[int64]bool)
	for _, id := range t.IDs() {
		model, _ := t.GetEntry(id)
		if Visible(controllers, access.Key{Label: model.Label(), ID: model.ID()}, userID, readTeams) {
			anyVisible = true
		} else {
			hidden[id] = true
		}
	}
	if !anyVisible {
		return nil, false
	}
	clone := t.Clone(copyModel)
	ids := clone.IDs()
	for i := len(ids) - 1; i >= 0; i-- {
		id := ids[i]
		if !hidden[id] {
			continue
		}
		if err := clone.RemoveAndReconnect(id); err != nil {
			if placeholder == nil {
				return nil, false
			}
			model, _ := clone.GetEntry(id)
			_ = clone.Replace(id, placeholder(model))
		}
	}
	if clone.Len() == 0 {
		return nil, false
	}
	return clone, true
}
