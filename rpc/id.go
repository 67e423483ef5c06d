package rpc

import (
	"fmt"
	"os"
	"regexp"
	"sync/atomic"

	"github.com/google/uuid"
)

// idPattern matches ids minted by newIDSource: "<callerTag>-<10 digit
// sequence>". Requests whose id doesn't match (a caller-supplied,
// opaque fire-and-forget id) have no derivable response queue, so the
// responder routes their reply to the completed queue instead.
var idPattern = regexp.MustCompile(`^(.+)-(\d{10})$`)

// callerTagOf extracts the response-queue-routing tag from id, if id
// was minted by an idSource. ok is false for opaque ids.
func callerTagOf(id string) (tag string, ok bool) {
	m := idPattern.FindStringSubmatch(id)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// idSource mints globally unique request ids of the form
// "<tag>-<sequence>", where tag identifies the requester's response
// queue. A hostname-pid-uuid tag stands in for the usual
// hostname-pid-tid-monotonic scheme, since Go has no stable thread id.
type idSource struct {
	tag string
	seq uint64
}

// newIDSource mints ids under responseQueueName, the tag a Responder
// routes replies back to. NewRequester passes it defaultTag's
// hostname-pid-uuid tag when the caller supplies none.
func newIDSource(responseQueueName string) *idSource {
	return &idSource{tag: responseQueueName}
}

// defaultTag builds a hostname-pid-uuid tag suitable as a response
// queue's base name when the caller doesn't supply one explicitly.
func defaultTag() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "unknown"
	}
	return fmt.Sprintf("%s-%d-%s", host, os.Getpid(), uuid.NewString()[:8])
}

func (s *idSource) next() string {
	n := atomic.AddUint64(&s.seq, 1)
	return fmt.Sprintf("%s-%010d", s.tag, n)
}
