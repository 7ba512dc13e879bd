package ticker

import "sort"

// subscriptionTracker is the client-side source of truth for what the
// server should currently be streaming. The server forgets everything on
// a dropped socket, so this map is replayed on every reconnect.
//
// It is owned exclusively by the serve goroutine; all mutation funnels
// through the command queue.
type subscriptionTracker struct {
	modes map[uint32]Mode
}

func newSubscriptionTracker() *subscriptionTracker {
	return &subscriptionTracker{modes: make(map[uint32]Mode)}
}

// applySubscribe inserts tokens at the default mode. Re-subscribing an
// already-tracked token leaves its mode untouched.
func (t *subscriptionTracker) applySubscribe(tokens []uint32) {
	for _, token := range tokens {
		if _, ok := t.modes[token]; !ok {
			t.modes[token] = defaultMode
		}
	}
}

// applyUnsubscribe removes tokens; untracked tokens are ignored.
func (t *subscriptionTracker) applyUnsubscribe(tokens []uint32) {
	for _, token := range tokens {
		delete(t.modes, token)
	}
}

// applySetMode overwrites the mode for each token, implicitly subscribing
// tokens not yet tracked.
func (t *subscriptionTracker) applySetMode(mode Mode, tokens []uint32) {
	for _, token := range tokens {
		t.modes[token] = mode
	}
}

// snapshot returns every tracked token plus the tokens grouped by
// non-default mode, both sorted for deterministic wire commands. The
// replayer turns this into one subscribe command followed by one mode
// command per group.
func (t *subscriptionTracker) snapshot() ([]uint32, map[Mode][]uint32) {
	all := make([]uint32, 0, len(t.modes))
	byMode := make(map[Mode][]uint32)

	for token, mode := range t.modes {
		all = append(all, token)
		if mode != defaultMode {
			byMode[mode] = append(byMode[mode], token)
		}
	}

	sort.Slice(all, func(i, j int) bool { return all[i] < all[j] })
	for _, tokens := range byMode {
		sort.Slice(tokens, func(i, j int) bool { return tokens[i] < tokens[j] })
	}

	return all, byMode
}
