package fusion

import (
	"errors"
	"fmt"

	"github.com/banshee-data/heading.fusion/internal/heading"
)

var (
	// ErrHeadingOwned is returned when a claim would break single ownership.
	ErrHeadingOwned = errors.New("heading estimation owned by another source")
	// ErrUnknownFrame is returned for claims with an unusable frame tag.
	ErrUnknownFrame = errors.New("cannot claim heading with unknown frame")
)

// Stopper is implemented by every sibling that shares the filter instance.
type Stopper interface {
	Stop()
}

// StopFunc adapts a plain function to Stopper.
type StopFunc func()

func (f StopFunc) Stop() { f() }

// Registry is the heading ownership record shared by every controller of
// one filter instance. Any number of NED sources may hold heading together;
// an FRD source holds it alone.
type Registry struct {
	members   map[SourceID]Stopper
	order     []SourceID
	holders   map[SourceID]heading.Frame
	exclusive SourceID
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		members: make(map[SourceID]Stopper),
		holders: make(map[SourceID]heading.Frame),
	}
}

// Register adds a sibling whose Stop must run when an exclusive source
// activates. Registration order is the stop order.
func (r *Registry) Register(id SourceID, s Stopper) {
	if _, ok := r.members[id]; !ok {
		r.order = append(r.order, id)
	}
	r.members[id] = s
}

// Claim records id as a heading holder for the given frame.
func (r *Registry) Claim(id SourceID, frame heading.Frame) error {
	switch frame {
	case heading.FrameNED:
		if r.exclusive != "" && r.exclusive != id {
			return fmt.Errorf("%s: %w (exclusive owner %s)", id, ErrHeadingOwned, r.exclusive)
		}
		if r.exclusive == id {
			r.exclusive = ""
		}
		r.holders[id] = frame
		return nil

	case heading.FrameFRD:
		for holder := range r.holders {
			if holder != id {
				return fmt.Errorf("%s: %w (held by %s)", id, ErrHeadingOwned, holder)
			}
		}
		r.holders[id] = frame
		r.exclusive = id
		return nil
	}
	return fmt.Errorf("%s: %w", id, ErrUnknownFrame)
}

// Release drops any claim held by id. Releasing twice is harmless.
func (r *Registry) Release(id SourceID) {
	delete(r.holders, id)
	if r.exclusive == id {
		r.exclusive = ""
	}
}

// Blocked reports whether a claim by id for frame would currently fail
// without first stopping the siblings.
func (r *Registry) Blocked(id SourceID, frame heading.Frame) bool {
	if frame != heading.FrameNED {
		return false
	}
	return r.exclusive != "" && r.exclusive != id
}

// StopOthers invokes the stop operation of every registered sibling except
// id, in registration order.
func (r *Registry) StopOthers(id SourceID) {
	for _, other := range r.order {
		if other == id {
			continue
		}
		r.members[other].Stop()
	}
}

// Holds reports whether id currently holds heading.
func (r *Registry) Holds(id SourceID) bool {
	_, ok := r.holders[id]
	return ok
}

// Exclusive returns the exclusive owner, if any.
func (r *Registry) Exclusive() (SourceID, bool) {
	return r.exclusive, r.exclusive != ""
}

// Holders lists the current holders in registration order.
func (r *Registry) Holders() []SourceID {
	var out []SourceID
	for _, id := range r.order {
		if _, ok := r.holders[id]; ok {
			out = append(out, id)
		}
	}
	return out
}
