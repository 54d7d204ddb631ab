package devserver

import (
	"log/slog"
	"math/rand/v2"
	"strconv"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// pendingLogin is a login the LoginApp accepted and the BaseApp has not
// picked up yet.
type pendingLogin struct {
	Username string
	Nonce    uint32
	// FilterKey is the client's Blowfish key, empty for plaintext sessions.
	FilterKey []byte
	// LoginKey is handed out by the LoginApp and doubles as the channel
	// conversation id.
	LoginKey uint32
	// SessionKey is assigned on the first baseAppLogin so that retried
	// attempts all get the same answer.
	SessionKey uint32
}

// pendingLogins expires logins that never reach the BaseApp.
type pendingLogins struct {
	c *gocache.Cache
}

func newPendingLogins(ttl time.Duration) *pendingLogins {
	c := gocache.New(ttl, max(ttl/2, time.Second))
	c.OnEvicted(func(k string, v any) {
		if p, ok := v.(*pendingLogin); ok {
			slog.Debug("pending login dropped", "login", p.Username, "key", k)
		}
	})
	return &pendingLogins{c: c}
}

func pendingKey(key uint32) string {
	return strconv.FormatUint(uint64(key), 16)
}

// add stores p under a fresh non-zero login key and returns the key.
func (pl *pendingLogins) add(p *pendingLogin) uint32 {
	for {
		key := rand.Uint32()
		if key == 0 {
			continue
		}
		if err := pl.c.Add(pendingKey(key), p, gocache.DefaultExpiration); err != nil {
			continue
		}
		p.LoginKey = key
		return key
	}
}

func (pl *pendingLogins) get(key uint32) (*pendingLogin, bool) {
	v, ok := pl.c.Get(pendingKey(key))
	if !ok {
		return nil, false
	}
	return v.(*pendingLogin), true
}

// take removes and returns the login stored under key.
func (pl *pendingLogins) take(key uint32) (*pendingLogin, bool) {
	p, ok := pl.get(key)
	if ok {
		pl.c.Delete(pendingKey(key))
	}
	return p, ok
}

// byUser finds a pending login for username, used to answer a retried
// login request with the same key.
func (pl *pendingLogins) byUser(username string) (*pendingLogin, bool) {
	for _, item := range pl.c.Items() {
		if p := item.Object.(*pendingLogin); p.Username == username {
			return p, true
		}
	}
	return nil, false
}

func (pl *pendingLogins) len() int { return pl.c.ItemCount() }
