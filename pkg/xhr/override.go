package xhr

import "github.com/jingkaihe/mocklock/pkg/api"

// Snapshot is a complete response installed through an Override.
type Snapshot struct {
	Status     int
	StatusText string
	Header     api.Headers
	Body       string
	URL        string
}

// Override replaces what the response accessors report for the current
// exchange. It lets a Send hook complete a request without the network.
// An Override obtained before a later Open has no effect.
type Override struct {
	r     *Request
	state *ReadyState
	resp  *Snapshot
}

// Override returns the override handle for the current exchange, creating
// it on first use.
func (r *Request) Override() *Override {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.override == nil {
		r.override = &Override{r: r}
	}
	return r.override
}

// SetReadyState makes ReadyState report s.
func (o *Override) SetReadyState(s ReadyState) {
	o.r.mu.Lock()
	defer o.r.mu.Unlock()
	o.state = &s
}

// SetResponse makes the status, text, body, header and URL accessors
// report snap.
func (o *Override) SetResponse(snap Snapshot) {
	snap.Header = snap.Header.Clone()
	o.r.mu.Lock()
	defer o.r.mu.Unlock()
	o.resp = &snap
}

// Active reports whether o still belongs to the request's current exchange.
func (o *Override) Active() bool {
	o.r.mu.Lock()
	defer o.r.mu.Unlock()
	return o.r.override == o
}
