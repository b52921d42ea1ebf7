package command

// Spec is the consistency-level tag of a queue type. Master and slave types
// of the same level share a level prefix and differ in the trailing role
// letter ("m" or "s").
type Spec string

const (
	// Level0Master replicates to slaves without waiting for acknowledgment.
	Level0Master Spec = "level0m"
	// Level0Slave is the replica paired with Level0Master.
	Level0Slave Spec = "level0s"
	// Level1Master waits for every slave to acknowledge each command.
	Level1Master Spec = "level1m"
	// Level1Slave is the replica paired with Level1Master.
	Level1Slave Spec = "level1s"
)

// Known reports whether s is one of the defined levels.
func (s Spec) Known() bool {
	switch s {
	case Level0Master, Level0Slave, Level1Master, Level1Slave:
		return true
	}
	return false
}

// IsMaster reports whether s names a master queue type.
func (s Spec) IsMaster() bool { return s == Level0Master || s == Level1Master }

// IsSlave reports whether s names a slave queue type.
func (s Spec) IsSlave() bool { return s == Level0Slave || s == Level1Slave }

// SlaveSpec returns the replica type paired with a master spec. Slave specs
// map to themselves. ok is false for unknown specs.
func (s Spec) SlaveSpec() (Spec, bool) {
	switch s {
	case Level0Master, Level0Slave:
		return Level0Slave, true
	case Level1Master, Level1Slave:
		return Level1Slave, true
	}
	return "", false
}

func (s Spec) String() string { return string(s) }
