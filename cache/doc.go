// Package cache memoizes guarded blocks of a reactive notebook runtime.
//
// A block is identified by its code and the values of the variables it reads.
// The Fingerprinter reduces both to a Key; a Store tier (Ephemeral, Bounded or
// Persistent) maps keys to Entries holding the encoded values of the block's
// declared outputs. The Controller ties these together: it fingerprints a
// block, looks it up in the store, and either restores the outputs (hit) or lets the
// block run and captures its outputs (miss).
//
// Typical use:
//
//	ctrl, err := cache.New(cache.DefaultConfig())
//	...
//	scope, err := ctrl.Run(ctx, cache.Block{
//		Code:    src,
//		Inputs:  ns.Select("df", "threshold"),
//		Outputs: []string{"model"},
//	}, ns, train)
//
// Memoize applies the same machinery to an ordinary Go function, keyed by a
// name and the encoded argument.
//
// Caching failures never abort the computation. Unserializable inputs run the
// block uncached, unserializable outputs are not stored, and an unreachable
// persistent backend degrades the controller to an in-process store.
package cache
