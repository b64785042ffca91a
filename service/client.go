package service

// Client talks to a DMI server.
type Client interface {
	// Read returns the value of the DMI register at addr.
	Read(addr uint32) (uint32, error)
	// Write stores value in the DMI register at addr.
	Write(addr, value uint32) error

	// ReadRegister reads a hart register through an abstract command.
	ReadRegister(regno uint16) (uint32, error)
	// WriteRegister writes a hart register through an abstract command.
	WriteRegister(regno uint16, value uint32) error

	// DebugRequest sets the debug request bit of DMCONTROL.
	DebugRequest() error
	// HaltRequest sets the halt request bit of DMCONTROL.
	HaltRequest() error
	// ResetHart sets the hart reset bit of DMCONTROL.
	ResetHart() error
	// AckReset sets the reset acknowledge bit of DMCONTROL.
	AckReset() error
	// Status reads DMSTATUS.
	Status() (uint32, error)

	// Close closes the connection to the server.
	Close() error
}
