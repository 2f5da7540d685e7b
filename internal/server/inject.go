package server

import (
	"bytes"
)

// reloadScript connects to /livereload and reloads the page on every
// reload message, reconnecting after the server restarts.
const reloadScript = `<script>(function(){` +
	`var p=location.protocol==="https:"?"wss://":"ws://";` +
	`function connect(){var s=new WebSocket(p+location.host+"/livereload");` +
	`s.onmessage=function(e){try{if(JSON.parse(e.data).type==="reload"){location.reload()}}catch(_){}};` +
	`s.onclose=function(){setTimeout(connect,1000)}}` +
	`connect()})();</script>`

var closingBody = []byte("</body>")

// injectReloadScript inserts the reload script before the last </body>,
// or appends it when the document has none.
func injectReloadScript(doc []byte) []byte {
	i := bytes.LastIndex(bytes.ToLower(doc), closingBody)
	if i < 0 {
		out := make([]byte, 0, len(doc)+len(reloadScript))
		out = append(out, doc...)
		return append(out, reloadScript...)
	}
	out := make([]byte, 0, len(doc)+len(reloadScript))
	out = append(out, doc[:i]...)
	out = append(out, reloadScript...)
	return append(out, doc[i:]...)
}
