package coordination

// Elect is the reference leader-election Handler (spec.md §1's
// "leader election ... as application-defined barriers" primitive):
// the coordinator broadcasts once and completes, attaching the
// coordinator's node id so every member can read the elected leader
// off Context.Attachment.
type Elect struct{}

func (Elect) Prepare(cc *Context) {
	cc.SetAttachment(cc.Coordinator().ID)
	if !cc.IsCoordinator() {
		return
	}
	cc.Broadcast(nil, func(_ map[string][]byte, err error) {
		if err != nil {
			return
		}
		cc.SetAttachment(cc.Coordinator().ID)
		cc.Complete()
	})
}

func (Elect) Process(cc *Context, _ []byte) ([]byte, error) { return nil, nil }

func (Elect) Cancel(*Context) {}
