package dmi

// Target is the register space requests are dispatched to.
type Target interface {
	Read(addr uint32) (uint32, error)
	Write(addr, value uint32)
}

// Dispatch executes req against t and returns the response to send.
// Reads of missing addresses and unknown opcodes produce an error
// response. Writes are acknowledged with a zero value.
func Dispatch(t Target, req Request) Response {
	switch req.Op {
	case OpRead:
		v, err := t.Read(req.Addr)
		if err != nil {
			return Error()
		}
		return OK(v)
	case OpWrite:
		t.Write(req.Addr, req.Value)
		return OK(0)
	}
	return Error()
}
