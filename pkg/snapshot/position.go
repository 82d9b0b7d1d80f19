package snapshot

import (
	"sync"

	"github.com/mpapenbr/forza-session-recorder/pkg/model"
)

type Vec3 struct {
	X, Y, Z float32
}

// Position holds the most recent world position of the player car.
// It is written by the ingestion loop and read by status queries.
type Position struct {
	mu    sync.Mutex
	v     Vec3
	valid bool
}

func (p *Position) Update(v Vec3) {
	p.mu.Lock()
	p.v = v
	p.valid = true
	p.mu.Unlock()
}

func (p *Position) UpdateFrom(s *model.Sample) {
	p.Update(Vec3{X: s.PositionX, Y: s.PositionY, Z: s.PositionZ})
}

// Get returns the latest position. ok is false until the first update.
func (p *Position) Get() (v Vec3, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.v, p.valid
}
