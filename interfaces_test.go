package artnet

import (
	"net"
	"testing"
)

func TestSameMask(t *testing.T) {
	a := net.IPv4Mask(255, 0, 0, 0)
	b := net.IPv4Mask(255, 0, 0, 0)
	c := net.IPv4Mask(255, 255, 0, 0)
	if !sameMask(a, b) {
		t.Fatalf("identical masks reported different")
	}
	if sameMask(a, c) {
		t.Fatalf("different masks reported identical")
	}
}

func TestDefaultInterfaceResolverExcludesLoopback(t *testing.T) {
	cands, err := DefaultInterfaceResolver{}.Resolve()
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	for _, c := range cands {
		if c.Name == "lo" || c.Name == "lo0" {
			t.Fatalf("loopback interface %q should have been excluded", c.Name)
		}
	}
}

func TestResolveByNameUnknownInterface(t *testing.T) {
	_, err := ResolveByName("definitely-not-a-real-interface-xyz")
	if err != ErrUnknownInterface {
		t.Fatalf("err = %v, want ErrUnknownInterface", err)
	}
}
