package subscription

import (
	"testing"

	"github.com/pscheid92/eventrelay/internal/domain"
	"github.com/stretchr/testify/assert"
)

var (
	setTopic  = domain.NewTopic(domain.EventEmoteSetUpdate, "set1")
	userTopic = domain.NewTopic(domain.EventUserUpdate, "user1")
)

func ref(port, handler string) domain.HandlerRef {
	return domain.HandlerRef{PortID: port, HandlerID: domain.HandlerID(handler)}
}

func TestRegistry_FirstAndLastInterest(t *testing.T) {
	r := NewRegistry()

	assert.True(t, r.Add(setTopic, ref("p1", "h1")), "first handler should report first interest")
	assert.False(t, r.Add(setTopic, ref("p1", "h2")))
	assert.False(t, r.Add(setTopic, ref("p2", "h1")))
	assert.Equal(t, 3, r.HandlerCount(setTopic))

	assert.False(t, r.Remove(setTopic, ref("p1", "h1")))
	assert.False(t, r.Remove(setTopic, ref("p2", "h1")))
	assert.True(t, r.Remove(setTopic, ref("p1", "h2")), "last handler should report no interest")
	assert.False(t, r.Has(setTopic))
	assert.Equal(t, 0, r.Len())
}

func TestRegistry_DuplicateAddIsNoop(t *testing.T) {
	r := NewRegistry()

	assert.True(t, r.Add(setTopic, ref("p1", "h1")))
	assert.False(t, r.Add(setTopic, ref("p1", "h1")))
	assert.Equal(t, 1, r.HandlerCount(setTopic))
	assert.Equal(t, 1, r.Total())

	assert.True(t, r.Remove(setTopic, ref("p1", "h1")))
}

func TestRegistry_RemoveUnknown(t *testing.T) {
	r := NewRegistry()

	assert.False(t, r.Remove(setTopic, ref("p1", "h1")), "unknown topic")

	r.Add(setTopic, ref("p1", "h1"))
	assert.False(t, r.Remove(setTopic, ref("p1", "nope")), "unknown handler")
	assert.False(t, r.Remove(setTopic, ref("p2", "h1")), "same handler id on another port")
	assert.True(t, r.Has(setTopic))
}

func TestRegistry_HandlersKeepRegistrationOrder(t *testing.T) {
	r := NewRegistry()
	r.Add(setTopic, ref("p2", "b"))
	r.Add(setTopic, ref("p1", "a"))
	r.Add(setTopic, ref("p1", "c"))

	assert.Equal(t, []domain.HandlerRef{ref("p2", "b"), ref("p1", "a"), ref("p1", "c")}, r.Handlers(setTopic))

	// Returned slice is a copy.
	handlers := r.Handlers(setTopic)
	handlers[0] = ref("x", "x")
	assert.Equal(t, ref("p2", "b"), r.Handlers(setTopic)[0])
}

func TestRegistry_RemovePort(t *testing.T) {
	r := NewRegistry()
	r.Add(setTopic, ref("p1", "h1"))
	r.Add(setTopic, ref("p1", "h2"))
	r.Add(setTopic, ref("p2", "h3"))
	r.Add(userTopic, ref("p1", "h4"))

	assert.Equal(t, 4, r.Total())

	emptied := r.RemovePort("p1")
	assert.Equal(t, 1, r.Total())

	assert.Equal(t, []domain.Topic{userTopic}, emptied)
	assert.Equal(t, []domain.HandlerRef{ref("p2", "h3")}, r.Handlers(setTopic))
	assert.False(t, r.Has(userTopic))

	assert.Nil(t, r.RemovePort("p1"), "second removal is a no-op")
	assert.Equal(t, []domain.Topic{setTopic}, r.RemovePort("p2"))
	assert.Equal(t, 0, r.Len())
}

func TestRegistry_RemovePortAfterPartialRemove(t *testing.T) {
	r := NewRegistry()
	r.Add(setTopic, ref("p1", "h1"))
	r.Add(userTopic, ref("p1", "h2"))

	assert.True(t, r.Remove(setTopic, ref("p1", "h1")))
	assert.Equal(t, []domain.Topic{userTopic}, r.RemovePort("p1"))
}

func TestRegistry_TopicsSorted(t *testing.T) {
	r := NewRegistry()
	r.Add(userTopic, ref("p1", "h1"))
	r.Add(setTopic, ref("p1", "h2"))
	r.Add(domain.NewTopic(domain.EventEmoteSetUpdate, "set0"), ref("p1", "h3"))

	assert.Equal(t, []domain.Topic{
		domain.NewTopic(domain.EventEmoteSetUpdate, "set0"),
		setTopic,
		userTopic,
	}, r.Topics())
}
