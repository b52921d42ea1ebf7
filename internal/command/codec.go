package command

import (
	"encoding/json"
	"fmt"
)

// wireCommand is the JSON shape used by the failure journal and the
// replication feed. Payload is base64 via encoding/json's []byte handling.
type wireCommand struct {
	Kind    string `json:"kind"`
	Target  string `json:"target"`
	Spec    Spec   `json:"spec,omitempty"`
	Payload []byte `json:"payload,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (c Command) MarshalJSON() ([]byte, error) {
	return json.Marshal(wireCommand{
		Kind:    c.kind.String(),
		Target:  c.target,
		Spec:    c.spec,
		Payload: c.payload,
	})
}

// UnmarshalJSON implements json.Unmarshaler. Unknown kinds are rejected so a
// decoded Command is always one a replica can act on.
func (c *Command) UnmarshalJSON(data []byte) error {
	var w wireCommand
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	switch k := ParseKind(w.Kind); k {
	case KindCreateQueue:
		*c = CreateQueue(w.Target, w.Spec)
	case KindPushTask:
		*c = PushTask(w.Target, w.Payload)
	case KindPopTask:
		*c = PopTask(w.Target)
	default:
		return fmt.Errorf("command: unknown kind %q", w.Kind)
	}
	return nil
}
