package dm

// stage is one row of a sequenced register: from the read count From
// onward the register reads as Value, until the next stage starts.
type stage struct {
	From  uint64
	Value uint32
}

// SequencePolicy overrides the value returned for observed addresses as a
// function of how many times they have been read. It emulates a hart going
// through reset, halt and resume, which a static value cannot express.
type SequencePolicy struct {
	stages map[uint32][]stage
}

// DefaultSequencePolicy returns the policy for DMSTATUS and DMCONTROL.
func DefaultSequencePolicy() *SequencePolicy {
	return &SequencePolicy{
		stages: map[uint32][]stage{
			AddrDMStatus: {
				{From: 0, Value: StatusHaltedAfterReset},
				{From: 1, Value: StatusHaltedUnsettled},
				{From: 10, Value: StatusSteady},
			},
			AddrDMControl: {
				{From: 0, Value: ControlActive},
				{From: 2, Value: ControlActiveDMIReset},
				{From: 3, Value: ControlActive},
			},
		},
	}
}

// Observes reports whether addr is subject to the policy.
func (p *SequencePolicy) Observes(addr uint32) bool {
	_, ok := p.stages[addr]
	return ok
}

// Override returns the effective value of addr given its stored value raw
// and count, the number of reads of addr that happened before this one.
func (p *SequencePolicy) Override(addr, raw uint32, count uint64) uint32 {
	stages, ok := p.stages[addr]
	if !ok {
		return raw
	}
	v := raw
	for _, st := range stages {
		if st.From > count {
			break
		}
		v = st.Value
	}
	return v
}

// SequenceState holds the per-address read counters of one debug session.
// Counters only grow; a new session starts from a new SequenceState.
// It is not safe for concurrent use, DebugModule serializes access to it.
type SequenceState struct {
	counts map[uint32]uint64
}

// NewSequenceState returns a state with every counter at zero.
func NewSequenceState() *SequenceState {
	return &SequenceState{counts: make(map[uint32]uint64)}
}

// Next returns the read count of addr and advances it.
func (s *SequenceState) Next(addr uint32) uint64 {
	n := s.counts[addr]
	s.counts[addr] = n + 1
	return n
}

// Count returns the number of reads of addr so far.
func (s *SequenceState) Count(addr uint32) uint64 {
	return s.counts[addr]
}
