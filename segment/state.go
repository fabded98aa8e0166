package segment

import (
	"fmt"
	"time"
)

// State owns a fixed set of segments and the order they are visited in.
// Segments are neither added nor removed once a run has started.
type State struct {
	segments map[string]*Segment
	order    []string
}

// NewState builds a State from segs, keeping their order. Duplicate ids
// are rejected.
func NewState(segs ...Segment) (*State, error) {
	st := &State{
		segments: make(map[string]*Segment, len(segs)),
		order:    make([]string, 0, len(segs)),
	}
	for _, s := range segs {
		if s.ID == "" {
			return nil, fmt.Errorf("segment id is required")
		}
		if _, dup := st.segments[s.ID]; dup {
			return nil, fmt.Errorf("duplicate segment id %s", s.ID)
		}
		seg := s
		st.segments[s.ID] = &seg
		st.order = append(st.order, s.ID)
	}
	return st, nil
}

// Get returns the live segment for id. The pointer is owned by the State.
func (st *State) Get(id string) (*Segment, bool) {
	s, ok := st.segments[id]
	return s, ok
}

// IDs returns a copy of the segment ids in iteration order.
func (st *State) IDs() []string {
	ids := make([]string, len(st.order))
	copy(ids, st.order)
	return ids
}

// Len returns the number of segments.
func (st *State) Len() int {
	return len(st.order)
}

// Clone returns a deep copy, useful for comparing before/after.
func (st *State) Clone() *State {
	segs := make([]Segment, 0, len(st.order))
	for _, id := range st.order {
		segs = append(segs, *st.segments[id])
	}
	c, _ := NewState(segs...)
	return c
}

// SeedTime is the timestamp every seeded segment starts at.
var SeedTime = time.Date(2020, time.January, 1, 9, 0, 0, 0, time.UTC)

// Seed returns a fresh state with the three sample segments. Each call
// returns independent state.
func Seed() *State {
	st, err := NewState(
		Segment{
			ID: "8f4827ebed3c2e66f50daef967d5e91daadd8d98",
			Topology: Topology{
				StartJunctionID: "8e555723c3dff79036c7a8c0cef6b32a80763c9f",
				EndJunctionID:   "2278ad9374ec96c35a0d769bc8a275f6355b55da",
				OSMWayID:        40722998,
				OSMStartNodeID:  62385707,
				OSMEndNodeID:    4927951349,
			},
			SpeedMean:   26.636,
			SpeedStddev: 4.483,
			Timestamp:   SeedTime,
		},
		Segment{
			ID: "1b9e0c2f4a7d3e85c6f0b2a9d4e7c1f3a8b5d2e6",
			Topology: Topology{
				StartJunctionID: "2278ad9374ec96c35a0d769bc8a275f6355b55da",
				EndJunctionID:   "c3f1a7e9d2b4f6085e1c3a7d9b2f4e6a8c0d1e3f",
				OSMWayID:        40722999,
				OSMStartNodeID:  4927951349,
				OSMEndNodeID:    62385711,
			},
			SpeedMean:   31.204,
			SpeedStddev: 3.917,
			Timestamp:   SeedTime,
		},
		Segment{
			ID: "e4d2a6c8f0b1d3e5a7c9f2b4d6e8a0c1f3b5d7e9",
			Topology: Topology{
				StartJunctionID: "c3f1a7e9d2b4f6085e1c3a7d9b2f4e6a8c0d1e3f",
				EndJunctionID:   "5a7c9e1f3b5d7f9a1c3e5b7d9f1a3c5e7b9d1f3a",
				OSMWayID:        159381034,
				OSMStartNodeID:  62385711,
				OSMEndNodeID:    1712483920,
			},
			SpeedMean:   18.472,
			SpeedStddev: 5.126,
			Timestamp:   SeedTime,
		},
	)
	if err != nil {
		panic(err)
	}
	return st
}

// SampleReading is the fixed reading used by the websocket test client.
func SampleReading() Reading {
	return Reading{
		SegmentID:    "8f4827ebed3c2e66f50daef967d5e91daadd8d98",
		Year:         2020,
		Month:        1,
		Day:          1,
		Hour:         1,
		UTCTimestamp: "2020-01-01T09:00:00.000Z",
		Topology: Topology{
			StartJunctionID: "8e555723c3dff79036c7a8c0cef6b32a80763c9f",
			EndJunctionID:   "2278ad9374ec96c35a0d769bc8a275f6355b55da",
			OSMWayID:        40722998,
			OSMStartNodeID:  62385707,
			OSMEndNodeID:    4927951349,
		},
		SpeedMphMean:   26.636,
		SpeedMphStddev: 4.483,
	}
}
