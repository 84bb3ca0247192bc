package cache

import (
	"github.com/vmihailenco/msgpack/v5"
)

// schemaVersion is bumped whenever the envelope shape changes. Tier-2
// entries written by an older schema version are treated as misses rather
// than decoded incorrectly (§4.2: "schema-versioned so stale tier-2 entries
// from an older code version are treated as misses").
const schemaVersion = 1

type envelope struct {
	Version  int    `msgpack:"v"`
	Negative bool   `msgpack:"n"`
	Payload  []byte `msgpack:"p"`
}

func encodeEnvelope(value []byte, negative bool) []byte {
	env := envelope{Version: schemaVersion, Negative: negative, Payload: value}
	b, err := msgpack.Marshal(env)
	if err != nil {
		// Marshal of a plain struct with byte-slice/bool fields cannot fail;
		// treat as empty on the unreachable error path.
		return nil
	}
	return b
}

func decodeEnvelope(raw []byte) (value []byte, negative bool, ok bool) {
	var env envelope
	if err := msgpack.Unmarshal(raw, &env); err != nil {
		return nil, false, false
	}
	if env.Version != schemaVersion {
		return nil, false, false
	}
	return env.Payload, env.Negative, true
}
