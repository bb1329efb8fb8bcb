package obs

// genHandler forwards transport callbacks onto the client's event loop,
// tagged with the connection generation they belong to. Callbacks from a
// transport that has since been replaced are dropped, which keeps stale
// sockets from corrupting the state machine.
type genHandler struct {
	c   *Client
	gen uint64
}

func (h *genHandler) HandleOpen() {
	h.c.post(func() {
		if h.c.gen == h.gen {
			h.c.onOpen()
		}
	})
}

func (h *genHandler) HandleFrame(data []byte) {
	h.c.post(func() {
		if h.c.gen == h.gen {
			h.c.onFrame(data)
		}
	})
}

func (h *genHandler) HandleClose(err error) {
	h.c.post(func() {
		if h.c.gen == h.gen {
			h.c.onClose(err)
		}
	})
}
