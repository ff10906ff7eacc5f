package sink

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gowebpki/jcs"

	"github.com/hazyhaar/visreg/artifact"
)

// Digest is the hex SHA-256 of the RFC 8785 canonical JSON of d, ignoring
// its id and timestamp. Two runs that found the same differences share a
// digest.
func Digest(d *artifact.VisualDiff) (string, error) {
	c := *d
	c.ID = ""
	c.Timestamp = time.Time{}
	raw, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("sink: digest: %w", err)
	}
	canon, err := jcs.Transform(raw)
	if err != nil {
		return "", fmt.Errorf("sink: digest: canonicalize: %w", err)
	}
	sum := sha256.Sum256(canon)
	return hex.EncodeToString(sum[:]), nil
}
