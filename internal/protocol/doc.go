/*
Package protocol serves the virtual resource scheme that stands in for a
network origin inside sandboxed contexts.

A Host answers three kinds of paths:

	/ and /index.html   the bootstrap document (text/html)
	/code.js            the instance's active script, from a ScriptSource
	anything else       a file from the assets directory, by basename only

Paths are cleaned before any file access and resolved assets are
canonicalized and checked for containment in the assets directory.
Misses and read failures return ErrAssetNotFound or ErrAssetRead so that
transports can answer explicitly.
*/
package protocol
