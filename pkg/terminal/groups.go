package terminal

type commandGroup uint8

const (
	otherCmds commandGroup = iota
	dmiCmds
	hartCmds
)

type commandGroupDescription struct {
	description string
	group       commandGroup
}

var commandGroupDescriptions = []commandGroupDescription{
	{"Accessing DMI registers", dmiCmds},
	{"Controlling the hart and its registers", hartCmds},
	{"Other commands", otherCmds},
}
