/*
Package sandbox runs untrusted scripts as isolated workers.

Each Worker owns a goja runtime driven by a single event-loop goroutine.
The script is fetched from the virtual scheme (worker://<instance>/code.js)
and can only reach the host through two globals:

	postMessage(text)   hands text to the worker's gateway as inbound
	onmessage = fn      receives {data: text} for every outbound envelope

console.* goes to the host logger and setTimeout/clearTimeout schedule
callbacks on the event loop. require, process, module and exports are
removed. Every callback runs under the configured execution timeout and is
interrupted when it overruns.

The Manager tracks running workers by instance id and builds a gateway for
each through a GatewayFactory, so every worker gets its own trust boundary.
*/
package sandbox
