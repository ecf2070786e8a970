package transport

import (
	"testing"

	"github.com/loomkit/loom/internal/event"
	"github.com/loomkit/loom/internal/mirror"
	"github.com/loomkit/loom/internal/testutil/testlog"
)

var counterClass = event.NewClass("transporttest", "Counter").
	Prop(event.Property{Name: "count", Kind: event.PropInt, Settable: true}).
	Action("increment", func(c *event.Component, args ...any) error {
		return c.Mutate("count", c.GetInt("count")+1)
	}).
	MustBuild()

type pair struct {
	loopA, loopB *event.Loop
	sessA, sessB *mirror.Session
}

func newPipePair(t *testing.T) *pair {
	t.Helper()
	p := &pair{loopA: event.NewLoop(), loopB: event.NewLoop()}

	mgrA := mirror.NewManager()
	mgrB := mirror.NewManager()
	p.sessA = mgrA.NewSession(p.loopA)
	p.sessB = mgrB.BindSession(p.loopB, p.sessA.ID(), "r")

	regA := mirror.NewClassRegistry()
	regA.RegisterHome(counterClass)
	regB := mirror.NewClassRegistry()
	regB.RegisterRemote(counterClass)

	rtA := mirror.NewRuntime(p.sessA, regA)
	rtB := mirror.NewRuntime(p.sessB, regB)

	toB, toA := Pipe(rtA, rtB)
	if err := p.sessA.AttachTransport(toB); err != nil {
		t.Fatalf("attach a: %v", err)
	}
	if err := p.sessB.AttachTransport(toA); err != nil {
		t.Fatalf("attach b: %v", err)
	}
	return p
}

func (p *pair) settle(t *testing.T) {
	t.Helper()
	for i := 0; i < 12; i++ {
		if err := p.loopA.Iter(); err != nil {
			t.Fatalf("a.Iter: %v", err)
		}
		if err := p.loopB.Iter(); err != nil {
			t.Fatalf("b.Iter: %v", err)
		}
	}
}

func TestPipeCounterRoundTrip(t *testing.T) {
	testlog.Start(t)

	p := newPipePair(t)
	auth, err := mirror.NewAuthoritative(p.sessA, counterClass, nil)
	if err != nil {
		t.Fatalf("NewAuthoritative: %v", err)
	}
	p.settle(t)

	d, ok := p.sessB.Component(auth.ID())
	if !ok {
		t.Fatalf("mirror not instantiated")
	}
	m := d.(*mirror.Mirror)

	if err := m.Comp().Invoke("increment"); err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if err := m.Comp().Invoke("increment"); err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	p.settle(t)

	if auth.Comp().GetInt("count") != 2 {
		t.Fatalf("authoritative count = %d, want 2", auth.Comp().GetInt("count"))
	}
	if m.Comp().GetInt("count") != 2 {
		t.Fatalf("mirror count = %d, want 2", m.Comp().GetInt("count"))
	}
}

func TestPipeRejectsInvalidCommand(t *testing.T) {
	testlog.Start(t)

	// Validation happens at encode time, before anything reaches a peer.
	end, _ := Pipe(nil, nil)
	if err := end.SendCommand(mirror.Command{Name: "BOGUS", ID: "c1"}); err == nil {
		t.Fatalf("invalid command crossed the pipe")
	}
}
