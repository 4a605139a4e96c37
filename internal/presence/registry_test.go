package presence

import (
	"sync"
	"testing"

	"github.com/meethub/backend/internal/event"
	"github.com/stretchr/testify/assert"
)

// fakeConn is a minimal Conn for registry tests
type fakeConn struct {
	userID string
	mu     sync.Mutex
	sent   []*event.Envelope
}

func (f *fakeConn) UserID() string { return f.userID }

func (f *fakeConn) Send(env *event.Envelope) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, env)
	return nil
}

func TestRegisterAndLookup(t *testing.T) {
	r := NewRegistry()
	c := &fakeConn{userID: "u1"}

	assert.Empty(t, r.Lookup("u1"))
	assert.False(t, r.IsOnline("u1"))

	r.Register(c)

	conns := r.Lookup("u1")
	assert.Len(t, conns, 1)
	assert.True(t, r.IsOnline("u1"))
	assert.Equal(t, 1, r.ConnectionCount("u1"))
}

func TestRegisterIsIdempotent(t *testing.T) {
	r := NewRegistry()
	c := &fakeConn{userID: "u1"}

	r.Register(c)
	r.Register(c)

	assert.Equal(t, 1, r.ConnectionCount("u1"))
	assert.Equal(t, 1, r.Len())
}

func TestMultiDeviceBindings(t *testing.T) {
	r := NewRegistry()
	laptop := &fakeConn{userID: "u1"}
	phone := &fakeConn{userID: "u1"}

	r.Register(laptop)
	r.Register(phone)

	assert.Equal(t, 2, r.ConnectionCount("u1"))
	assert.Len(t, r.Lookup("u1"), 2)

	r.Unregister(laptop)
	assert.Equal(t, 1, r.ConnectionCount("u1"))
	assert.True(t, r.IsOnline("u1"))

	r.Unregister(phone)
	assert.False(t, r.IsOnline("u1"))
	assert.Empty(t, r.Lookup("u1"))
}

func TestUnregisterUnknownConnIsNoop(t *testing.T) {
	r := NewRegistry()
	c := &fakeConn{userID: "u1"}

	r.Unregister(c)

	assert.False(t, r.IsOnline("u1"))
	assert.Equal(t, 0, r.Len())
}

func TestOnlineUsers(t *testing.T) {
	r := NewRegistry()
	r.Register(&fakeConn{userID: "u1"})
	r.Register(&fakeConn{userID: "u2"})

	users := r.OnlineUsers()
	assert.ElementsMatch(t, []string{"u1", "u2"}, users)
}

func TestConcurrentRegisterUnregister(t *testing.T) {
	r := NewRegistry()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c := &fakeConn{userID: "u1"}
			r.Register(c)
			r.Lookup("u1")
			r.Unregister(c)
		}()
	}
	wg.Wait()

	assert.False(t, r.IsOnline("u1"))
	assert.Equal(t, 0, r.Len())
}
