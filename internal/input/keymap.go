package input

import (
	"sync"

	"github.com/jezek/xgb"
	"github.com/jezek/xgb/xproto"
)

// keymapCache resolves X11 keysyms to keycodes by querying the server's
// keyboard mapping once and caching the reverse lookup, used to supply
// datachannel.ApplyKeysymQuirk its keycodeForKeysym callback (spec §4.6
// keysym 60 -> keycode 94 -> keysym 44 quirk).
type keymapCache struct {
	conn *xgb.Conn

	mu          sync.Mutex
	keysymToKey map[int]int // keysym -> keycode
	loaded      bool
}

func newKeymapCache(conn *xgb.Conn) *keymapCache {
	return &keymapCache{conn: conn}
}

func (k *keymapCache) load() error {
	setup := xproto.Setup(k.conn)
	minKeycode := setup.MinKeycode
	maxKeycode := setup.MaxKeycode
	count := byte(maxKeycode - minKeycode + 1)

	reply, err := xproto.GetKeyboardMapping(k.conn, minKeycode, count).Reply()
	if err != nil {
		return err
	}

	k.keysymToKey = make(map[int]int, len(reply.Keysyms))
	perKeycode := int(reply.KeysymsPerKeycode)
	for i, sym := range reply.Keysyms {
		if sym == 0 {
			continue
		}
		keycode := int(minKeycode) + i/perKeycode
		if _, exists := k.keysymToKey[int(sym)]; !exists {
			k.keysymToKey[int(sym)] = keycode
		}
	}
	k.loaded = true
	return nil
}

// KeycodeForKeysym returns the keycode currently bound to a keysym, or 0 if
// none is bound or the mapping could not be loaded.
func (k *keymapCache) KeycodeForKeysym(keysym int) int {
	k.mu.Lock()
	defer k.mu.Unlock()
	if !k.loaded {
		if err := k.load(); err != nil {
			log.Warn("keyboard mapping load failed", "error", err)
			return 0
		}
	}
	return k.keysymToKey[keysym]
}
