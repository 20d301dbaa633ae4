package workeragent

import (
	"encoding/hex"

	"github.com/google/uuid"
)

// uniqueID generates a short hex backend id local to this process. It is
// derived from a UUID the same way the original system derived one from a
// time-based UUID's .time field (hex(uuid4().time)[2:-1]) — good enough for
// log correlation within one dispatch, not a globally unique identifier (see
// the open design note about cross-host joins).
func uniqueID() string {
	id := uuid.New()
	return hex.EncodeToString(id[:4])
}
