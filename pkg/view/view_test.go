package view_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ironstar-dev/ironstar/pkg/view"
)

type tallyModel struct {
	total int
	seen  []string
}

type namedEvent struct{ name string }

func tallyView() view.View[tallyModel, namedEvent] {
	return view.View[tallyModel, namedEvent]{
		InitialReadModel: tallyModel{},
		EvolveRead: func(m tallyModel, e namedEvent) tallyModel {
			m.total++
			m.seen = append(append([]string(nil), m.seen...), e.name)
			return m
		},
	}
}

func TestRebuild_FoldsFromInitial(t *testing.T) {
	v := tallyView()
	events := []namedEvent{{"a"}, {"b"}, {"c"}}

	model := view.Rebuild(v, events)

	assert.Equal(t, 3, model.total)
	assert.Equal(t, []string{"a", "b", "c"}, model.seen)
}

func TestFold_ResumesFromGivenModel(t *testing.T) {
	v := tallyView()
	warm := view.Rebuild(v, []namedEvent{{"a"}})

	resumed := view.Fold(v, warm, []namedEvent{{"b"}})

	assert.Equal(t, 2, resumed.total)
	assert.Equal(t, []string{"a", "b"}, resumed.seen)
}
